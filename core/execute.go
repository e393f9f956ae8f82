package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/callid"
	"github.com/blockberries/relay/dapp"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var (
	errNoEndpoint     = errors.New("no endpoint at target")
	errNotWhitelisted = errors.New("target is not whitelisted")
)

// Execute runs an inbound call on this chain. Only operators may
// execute, and each CallID runs at most once. A failing target does not
// fail the transaction: the call moves to FallbackPending and a
// fallback-pending record carries the failure back to the origin.
func (r *Relay) Execute(ctx context.Context, kv store.KV, tx TxContext, msg *types.MsgExecute) ([]types.Record, error) {
	var recs []types.Record
	err := r.atomic(kv, func(kv store.KV, k *Keepers) error {
		if err := k.Gov.RequireActive(); err != nil {
			return err
		}
		if err := k.Operators.RequireOperator(tx.Sender); err != nil {
			return err
		}
		if msg.OriginChain == "" {
			return fmt.Errorf("%w: empty origin chain", relay.ErrInvalidTx)
		}
		app, err := k.Apps.Get(msg.AppID)
		if err != nil {
			return err
		}
		if err := k.IDs.MarkConsumed(r.cfg.Address, msg.CallID, callid.ConsumeExecute); err != nil {
			return err
		}

		caller := types.HexToAddress(msg.FallbackTo)
		inv := types.Invocation{
			AppID:       msg.AppID,
			CallID:      msg.CallID,
			Caller:      caller,
			OriginChain: msg.OriginChain,
			TxRef:       msg.OriginTxRef,
			Target:      msg.Target,
			Payload:     msg.Payload,
		}
		var ret []byte
		if dapp.CanTarget(app, msg.Target) {
			ret, err = r.invoke(ctx, kv, inv)
		} else {
			err = errNotWhitelisted
		}

		call := types.CallRecord{
			ID:        msg.CallID,
			AppID:     msg.AppID,
			State:     types.CallExecutedOk,
			Caller:    caller,
			Target:    msg.Target.Hex(),
			PeerChain: msg.OriginChain,
			TxRef:     msg.OriginTxRef,
			Payload:   msg.Payload,
			Height:    tx.Height,
		}
		exec := &types.ExecutionRecord{
			AppID:       msg.AppID,
			Target:      msg.Target,
			CallID:      msg.CallID,
			OriginChain: msg.OriginChain,
			OriginTxRef: msg.OriginTxRef,
			Payload:     msg.Payload,
			Success:     err == nil,
			ReturnData:  ret,
		}
		if err == nil {
			recs = []types.Record{{Kind: types.RecordExecution, Height: tx.Height, Execution: exec}}
			return k.Calls.move(Inbound, call)
		}

		reason := []byte(err.Error())
		exec.ReturnData = reason
		r.logger.Debug("call failed",
			zap.Uint64("app", msg.AppID),
			zap.Stringer("call", msg.CallID),
			zap.Stringer("target", msg.Target),
			zap.Error(err),
		)
		call.State = types.CallExecutedFail
		if err := k.Calls.move(Inbound, call); err != nil {
			return err
		}
		call.State = types.CallFallbackPending
		if err := k.Calls.move(Inbound, call); err != nil {
			return err
		}
		payload := FallbackPayload(Fallback{
			AppID:       msg.AppID,
			CallID:      msg.CallID,
			Target:      msg.Target,
			OriginChain: msg.OriginChain,
			OriginTxRef: msg.OriginTxRef,
			Payload:     msg.Payload,
			Reason:      reason,
		})
		recs = []types.Record{
			{Kind: types.RecordExecution, Height: tx.Height, Execution: exec},
			{Kind: types.RecordFallbackPending, Height: tx.Height, FallbackPending: &types.FallbackPendingRecord{
				AppID:           msg.AppID,
				CallID:          msg.CallID,
				Target:          msg.Target,
				FallbackTo:      msg.FallbackTo,
				OriginChain:     msg.OriginChain,
				FailChain:       r.cfg.Chain,
				FailTxRef:       tx.Ref,
				FallbackPayload: payload,
				Reason:          reason,
			}},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Fallback delivers a fallback payload to the dispatcher of an
// outbound call. The handler runs once; whatever it returns, the call
// ends FallbackExecuted and later deliveries fail with
// relay.ErrUnknownCall.
func (r *Relay) Fallback(ctx context.Context, kv store.KV, tx TxContext, msg *types.MsgFallback) (types.Record, error) {
	var rec types.Record
	err := r.atomic(kv, func(kv store.KV, k *Keepers) error {
		if err := k.Gov.RequireActive(); err != nil {
			return err
		}
		if err := k.Operators.RequireOperator(tx.Sender); err != nil {
			return err
		}
		call, ok, err := k.Calls.Get(Outbound, msg.CallID)
		if err != nil {
			return err
		}
		if !ok || call.AppID != msg.AppID || call.State != types.CallDispatched {
			return fmt.Errorf("%w: %s is not awaiting fallback for app %d", relay.ErrUnknownCall, msg.CallID.Hex(), msg.AppID)
		}
		fb, err := DecodeFallback(msg.FallbackPayload)
		if err != nil {
			return fmt.Errorf("%w: %v", relay.ErrUnknownCall, err)
		}
		if fb.AppID != msg.AppID || fb.CallID != msg.CallID {
			return fmt.Errorf("%w: payload names app %d call %s", relay.ErrUnknownCall, fb.AppID, fb.CallID.Hex())
		}
		if err := r.matchesDispatch(fb, call, msg.OriginChain); err != nil {
			return err
		}
		if err := k.IDs.MarkConsumed(r.cfg.Address, msg.CallID, callid.ConsumeFallback); err != nil {
			return err
		}

		result, err := r.invoke(ctx, kv, types.Invocation{
			AppID:       msg.AppID,
			CallID:      msg.CallID,
			Caller:      fb.Target,
			OriginChain: msg.OriginChain,
			TxRef:       msg.FailTxRef,
			Target:      call.Caller,
			Payload:     msg.FallbackPayload,
			Fallback:    true,
			Reason:      fb.Reason,
		})
		if err != nil {
			result = []byte(err.Error())
			r.logger.Debug("fallback handler failed",
				zap.Uint64("app", msg.AppID),
				zap.Stringer("call", msg.CallID),
				zap.Error(err),
			)
		}

		call.State = types.CallFallbackExecuted
		if err := k.Calls.move(Outbound, call); err != nil {
			return err
		}
		rec = types.Record{Kind: types.RecordFallback, Height: tx.Height, Fallback: &types.FallbackRecord{
			AppID:           msg.AppID,
			Target:          call.Caller,
			CallID:          msg.CallID,
			OriginChain:     msg.OriginChain,
			FailTxRef:       msg.FailTxRef,
			FallbackPayload: msg.FallbackPayload,
			Success:         err == nil,
			Result:          result,
		}}
		return nil
	})
	return rec, err
}

// matchesDispatch checks that a fallback reports the call as it was
// dispatched from this chain and that it failed on the chain it was
// sent to.
func (r *Relay) matchesDispatch(fb Fallback, call types.CallRecord, failChain types.ChainID) error {
	switch {
	case failChain != call.PeerChain:
		return fmt.Errorf("%w: call %s was sent to %s, not %s", relay.ErrUnknownCall, call.ID.Hex(), call.PeerChain, failChain)
	case fb.OriginChain != r.cfg.Chain:
		return fmt.Errorf("%w: payload origin %s is not this chain", relay.ErrUnknownCall, fb.OriginChain)
	case fb.Target != types.HexToAddress(call.Target):
		return fmt.Errorf("%w: payload target %s does not match the dispatch", relay.ErrUnknownCall, fb.Target.Hex())
	case fb.OriginTxRef != call.TxRef:
		return fmt.Errorf("%w: payload tx %s does not match the dispatch", relay.ErrUnknownCall, fb.OriginTxRef)
	case !bytes.Equal(fb.Payload, call.Payload):
		return fmt.Errorf("%w: payload does not match the dispatch", relay.ErrUnknownCall)
	}
	return nil
}

// invoke calls the endpoint at inv.Target over a cache of kv. The
// endpoint's writes reach kv only if it returns without error or panic.
func (r *Relay) invoke(ctx context.Context, kv store.KV, inv types.Invocation) (ret []byte, err error) {
	ep, ok := r.cfg.Endpoints.Endpoint(inv.Target)
	if !ok {
		return nil, errNoEndpoint
	}
	cache := store.NewCache(kv)
	defer func() {
		if p := recover(); p != nil {
			ret, err = nil, fmt.Errorf("endpoint panic: %v", p)
		}
		if err != nil {
			cache.Discard()
			return
		}
		err = cache.Write()
	}()
	return ep.Invoke(ctx, inv, EndpointStore(cache, inv.Target))
}
