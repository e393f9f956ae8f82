package core

import (
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

// Dispatch registers an outbound call from tx.Sender on the app's
// budget and returns its dispatch record. Nothing changes on error.
func (r *Relay) Dispatch(ctx context.Context, kv store.KV, tx TxContext, msg *types.MsgDispatch) (types.Record, error) {
	var rec types.Record
	err := r.atomic(kv, func(_ store.KV, k *Keepers) error {
		if err := k.Gov.RequireActive(); err != nil {
			return err
		}
		var err error
		rec, err = r.dispatch(k, tx, msg.AppID, msg.Target, msg.DestChain, msg.Payload)
		return err
	})
	return rec, err
}

// Broadcast dispatches one payload to every (target, chain) pair. Either
// every dispatch succeeds or none does.
func (r *Relay) Broadcast(ctx context.Context, kv store.KV, tx TxContext, msg *types.MsgBroadcast) ([]types.Record, error) {
	if len(msg.Targets) == 0 || len(msg.Targets) != len(msg.DestChains) {
		return nil, fmt.Errorf("%w: %d targets for %d chains", relay.ErrInvalidTx, len(msg.Targets), len(msg.DestChains))
	}
	var recs []types.Record
	err := r.atomic(kv, func(_ store.KV, k *Keepers) error {
		if err := k.Gov.RequireActive(); err != nil {
			return err
		}
		for i, target := range msg.Targets {
			rec, err := r.dispatch(k, tx, msg.AppID, target, msg.DestChains[i], msg.Payload)
			if err != nil {
				return fmt.Errorf("broadcast %d: %w", i, err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Relay) dispatch(k *Keepers, tx TxContext, appID uint64, target string, dest types.ChainID, payload []byte) (types.Record, error) {
	if target == "" || dest == "" {
		return types.Record{}, fmt.Errorf("%w: empty target or destination chain", relay.ErrInvalidTx)
	}
	app, err := k.Apps.Get(appID)
	if err != nil {
		return types.Record{}, err
	}
	if !dapp.CanDispatch(app, tx.Sender) {
		return types.Record{}, fmt.Errorf("%w: %s may not dispatch for app %d", relay.ErrNotAuthorized, tx.Sender.Hex(), appID)
	}

	fee, err := k.Fees.Quote(appID, dest, uint64(len(payload)))
	switch {
	case errors.Is(err, relay.ErrUnpricedChain) && !r.cfg.RequireFee:
		fee = types.Amount{}
	case err != nil:
		return types.Record{}, err
	}
	if err := k.Fees.Debit(appID, fee); err != nil {
		return types.Record{}, err
	}

	id, err := k.IDs.Next(r.cfg.Address, callid.Request{
		AppID:     appID,
		Caller:    tx.Sender,
		Target:    target,
		DestChain: dest,
		Payload:   payload,
	})
	if err != nil {
		return types.Record{}, err
	}
	err = k.Calls.move(Outbound, types.CallRecord{
		ID:        id,
		AppID:     appID,
		State:     types.CallDispatched,
		Caller:    tx.Sender,
		Target:    target,
		PeerChain: dest,
		TxRef:     tx.Ref,
		Payload:   payload,
		Height:    tx.Height,
	})
	if err != nil {
		return types.Record{}, err
	}

	r.logger.Debug("dispatched",
		zap.Uint64("app", appID),
		zap.Stringer("call", id),
		zap.String("dest", string(dest)),
		zap.Stringer("fee", fee),
	)
	return types.Record{
		Kind:   types.RecordDispatch,
		Height: tx.Height,
		Dispatch: &types.DispatchRecord{
			AppID:       appID,
			CallID:      id,
			Caller:      tx.Sender,
			OriginChain: r.cfg.Chain,
			DestChain:   dest,
			Target:      target,
			Payload:     payload,
			TxRef:       tx.Ref,
			Fee:         fee,
		},
	}, nil
}
