package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var noncePrefix = []byte("acct/")

func nonceKey(sender types.Address) []byte {
	return store.Key(noncePrefix, sender[:])
}

// result is what a delivered message produces.
type result struct {
	data    []byte
	events  []types.Event
	records []types.Record
}

// executeTx runs one transaction over block. strictNonce requires the
// envelope nonce to equal the sender's next nonce and consumes it.
func (app *App) executeTx(ctx context.Context, r *core.Relay, block store.KV, height uint64, index uint32, tx types.Tx, strictNonce bool) (types.TxOutcome, []types.Record) {
	fail := func(err error) (types.TxOutcome, []types.Record) {
		return types.TxOutcome{Index: index, Code: relay.Code(err), Info: err.Error()}, nil
	}

	env, msg, err := types.DecodeTx(tx)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", relay.ErrInvalidTx, err))
	}
	if strictNonce {
		state := stateKV(block)
		next, err := store.GetUint64(state, nonceKey(env.Sender))
		if err != nil {
			return fail(err)
		}
		if env.Nonce != next {
			return fail(fmt.Errorf("%w: got %d, want %d", relay.ErrBadNonce, env.Nonce, next))
		}
		if err := store.PutUint64(state, nonceKey(env.Sender), next+1); err != nil {
			return fail(err)
		}
	}
	if err := validate(msg); err != nil {
		return fail(err)
	}

	cache := store.NewCache(block)
	txc := core.TxContext{
		Height: height,
		Sender: env.Sender,
		Ref:    crypto.Keccak256Hash(tx).Hex(),
	}
	res, err := app.deliver(ctx, r, stateKV(cache), txc, msg)
	if err != nil {
		cache.Discard()
		app.logger.Debug("tx failed",
			zap.Uint64("height", height),
			zap.Uint32("index", index),
			zap.Stringer("kind", msg.Kind()),
			zap.Error(err),
		)
		return fail(err)
	}
	if err := cache.Write(); err != nil {
		return fail(err)
	}

	events := res.events
	for i := range res.records {
		res.records[i].Height = height
		res.records[i].Index = index
		events = append(events, res.records[i].Event())
	}
	return types.TxOutcome{Index: index, Data: res.data, Events: events}, res.records
}

// validate performs the stateless checks shared by CheckTx and block
// execution.
func validate(msg types.Msg) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", relay.ErrInvalidTx, fmt.Sprintf(format, args...))
	}
	switch m := msg.(type) {
	case *types.MsgDispatch:
		if m.Target == "" || m.DestChain == "" {
			return invalid("dispatch needs a target and a destination chain")
		}
	case *types.MsgBroadcast:
		if len(m.Targets) == 0 || len(m.Targets) != len(m.DestChains) {
			return invalid("broadcast has %d targets for %d chains", len(m.Targets), len(m.DestChains))
		}
	case *types.MsgExecute:
		if m.CallID.IsZero() || m.OriginChain == "" {
			return invalid("execute needs a call id and an origin chain")
		}
		if !types.IsHexAddress(m.FallbackTo) {
			return invalid("fallback address %q is not a hex address", m.FallbackTo)
		}
	case *types.MsgFallback:
		if m.CallID.IsZero() || len(m.FallbackPayload) == 0 {
			return invalid("fallback needs a call id and a payload")
		}
	case *types.MsgSetDefaultFee:
		if m.Chain == "" {
			return invalid("fee rule needs a chain")
		}
	case *types.MsgSetAppFee:
		if m.Chain == "" {
			return invalid("fee rule needs a chain")
		}
	case *types.MsgSetFeeCurrency:
		if m.Price.IsZero() {
			return invalid("fee currency %s needs a price", m.Asset)
		}
	}
	return nil
}

func appEvent(kind string, a types.App) types.Event {
	ev := types.NewEvent(kind,
		"app_id", strconv.FormatUint(a.ID, 10),
		"admin", a.Admin.Hex(),
		"fee_asset", a.FeeAsset.Hex(),
		"mode", a.Mode.String(),
	)
	ev.Add("whitelist_size", strconv.Itoa(len(a.Whitelist)), false)
	if !a.PendingAdmin.IsZero() {
		ev.Add("pending_admin", a.PendingAdmin.Hex(), true)
	}
	return ev
}

// deliver routes msg to the keeper or relay entry point that handles it.
func (app *App) deliver(ctx context.Context, r *core.Relay, kv store.KV, tx core.TxContext, msg types.Msg) (result, error) {
	sender := tx.Sender
	switch m := msg.(type) {
	case *types.MsgDispatch:
		rec, err := r.Dispatch(ctx, kv, tx, m)
		if err != nil {
			return result{}, err
		}
		id := rec.CallID()
		return result{data: id[:], records: []types.Record{rec}}, nil

	case *types.MsgBroadcast:
		recs, err := r.Broadcast(ctx, kv, tx, m)
		if err != nil {
			return result{}, err
		}
		var data []byte
		for _, rec := range recs {
			id := rec.CallID()
			data = append(data, id[:]...)
		}
		return result{data: data, records: recs}, nil

	case *types.MsgExecute:
		recs, err := r.Execute(ctx, kv, tx, m)
		return result{records: recs}, err

	case *types.MsgFallback:
		rec, err := r.Fallback(ctx, kv, tx, m)
		if err != nil {
			return result{}, err
		}
		return result{records: []types.Record{rec}}, nil
	}

	k := r.Keepers(kv)
	switch m := msg.(type) {
	case *types.MsgRegisterApp:
		a, err := k.Apps.Register(sender, m.FeeAsset, m.Admin, m.Mode, m.Whitelist)
		if err != nil {
			return result{}, err
		}
		return result{data: store.Uint64Key(a.ID), events: []types.Event{appEvent("app_registered", a)}}, nil

	case *types.MsgUpdateApp:
		a, err := k.Apps.UpdateConfig(sender, m.AppID, m.FeeAsset, m.Mode)
		if err != nil {
			return result{}, err
		}
		return result{events: []types.Event{appEvent("app_updated", a)}}, nil

	case *types.MsgAddWhitelist:
		a, err := k.Apps.AddToWhitelist(sender, m.AppID, m.Addrs)
		if err != nil {
			return result{}, err
		}
		return result{events: []types.Event{appEvent("app_updated", a)}}, nil

	case *types.MsgDelWhitelist:
		a, err := k.Apps.DelFromWhitelist(sender, m.AppID, m.Addrs)
		if err != nil {
			return result{}, err
		}
		return result{events: []types.Event{appEvent("app_updated", a)}}, nil

	case *types.MsgDelegateAdmin:
		a, err := k.Apps.DelegateAdmin(sender, m.AppID, m.NewAdmin)
		if err != nil {
			return result{}, err
		}
		return result{events: []types.Event{appEvent("admin_delegated", a)}}, nil

	case *types.MsgApplyAdmin:
		a, err := k.Apps.ApplyAdmin(sender, m.AppID)
		if err != nil {
			return result{}, err
		}
		return result{events: []types.Event{appEvent("admin_applied", a)}}, nil

	case *types.MsgDeposit:
		budget, err := k.Fees.Deposit(sender, m.AppID, m.Amount)
		if err != nil {
			return result{}, err
		}
		return result{data: budget[:], events: []types.Event{types.NewEvent("deposit",
			"app_id", strconv.FormatUint(m.AppID, 10),
			"from", sender.Hex(),
			"amount", m.Amount.String(),
		)}}, nil

	case *types.MsgWithdrawBudget:
		left, err := k.Fees.WithdrawBudget(sender, m.AppID, m.To, m.Amount)
		if err != nil {
			return result{}, err
		}
		return result{data: left[:], events: []types.Event{types.NewEvent("withdraw_budget",
			"app_id", strconv.FormatUint(m.AppID, 10),
			"to", m.To.Hex(),
			"amount", m.Amount.String(),
		)}}, nil

	case *types.MsgAddOperator:
		if err := k.Operators.Add(sender, m.Operator); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("operator_added", "operator", m.Operator.Hex())}}, nil

	case *types.MsgRevokeOperator:
		if err := k.Operators.Revoke(sender, m.Operator); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("operator_revoked", "operator", m.Operator.Hex())}}, nil

	case *types.MsgSetDefaultFee:
		rule := types.FeeRule{Chain: m.Chain, Base: m.Base, PerByte: m.PerByte}
		if err := k.Fees.SetDefaultFee(sender, rule); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("fee_set",
			"chain", string(m.Chain), "base", m.Base.String(), "per_byte", m.PerByte.String())}}, nil

	case *types.MsgSetAppFee:
		rule := types.FeeRule{Chain: m.Chain, Base: m.Base, PerByte: m.PerByte}
		if err := k.Fees.SetAppFee(sender, m.AppID, rule); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("fee_set",
			"app_id", strconv.FormatUint(m.AppID, 10),
			"chain", string(m.Chain), "base", m.Base.String(), "per_byte", m.PerByte.String())}}, nil

	case *types.MsgWithdrawFees:
		if err := k.Fees.WithdrawFees(sender, m.Asset, m.To, m.Amount); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("withdraw_fees",
			"asset", m.Asset.Hex(), "to", m.To.Hex(), "amount", m.Amount.String())}}, nil

	case *types.MsgChangeGov:
		if err := k.Gov.Change(sender, m.Next); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("governor_proposed", "next", m.Next.Hex())}}, nil

	case *types.MsgApplyGov:
		if err := k.Gov.Apply(sender); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("governor_applied", "governor", sender.Hex())}}, nil

	case *types.MsgPause:
		if err := k.Gov.Pause(sender); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("paused")}}, nil

	case *types.MsgUnpause:
		if err := k.Gov.Unpause(sender); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("unpaused")}}, nil

	case *types.MsgAddSupportedCaller:
		if err := k.IDs.AddSupportedCaller(sender, m.Caller); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("supported_caller_added", "caller", m.Caller.Hex())}}, nil

	case *types.MsgRevokeSupportedCaller:
		if err := k.IDs.RevokeSupportedCaller(sender, m.Caller); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("supported_caller_revoked", "caller", m.Caller.Hex())}}, nil

	case *types.MsgTransfer:
		if err := NewBank(kv).Transfer(m.Asset, sender, m.To, m.Amount); err != nil {
			return result{}, fmt.Errorf("%w: %v", relay.ErrInvalidTx, err)
		}
		return result{events: []types.Event{types.NewEvent("transfer",
			"asset", m.Asset.Hex(), "from", sender.Hex(), "to", m.To.Hex(), "amount", m.Amount.String())}}, nil

	case *types.MsgSetFeeCurrency:
		if err := k.Fees.SetFeeCurrency(sender, m.Asset, m.Price); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("fee_currency_set",
			"asset", m.Asset.Hex(), "price", m.Price.String())}}, nil

	case *types.MsgDisableFeeCurrency:
		if err := k.Fees.DisableFeeCurrency(sender, m.Asset); err != nil {
			return result{}, err
		}
		return result{events: []types.Event{types.NewEvent("fee_currency_disabled",
			"asset", m.Asset.Hex())}}, nil
	}
	return result{}, fmt.Errorf("%w: unhandled message %s", relay.ErrInvalidTx, msg.Kind())
}
