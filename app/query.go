package app

import (
	"bytes"
	"context"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/callid"
	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Query paths.
const (
	PathApp       types.QueryPath = "/app"
	PathBudget    types.QueryPath = "/budget"
	PathAccrued   types.QueryPath = "/accrued"
	PathQuote     types.QueryPath = "/quote"
	PathCallOut   types.QueryPath = "/call/out"
	PathCallIn    types.QueryPath = "/call/in"
	PathConsumed  types.QueryPath = "/consumed"
	PathOperators types.QueryPath = "/operators"
	PathGovernor  types.QueryPath = "/governor"
	PathPaused    types.QueryPath = "/paused"
	PathRecords   = types.PathRecords
	PathNonce     types.QueryPath = "/nonce"
	PathBalance   types.QueryPath = "/balance"
	PathFees      types.QueryPath = "/fees"

	// PathFeeCurrency returns the price of a fee asset, zero when the
	// asset is not enabled.
	PathFeeCurrency types.QueryPath = "/fee_currency"
)

// MaxRecordPage bounds the batches returned by one /records query.
const MaxRecordPage = 256

// QuoteRequest is the data of a /quote query.
type QuoteRequest struct {
	AppID uint64        `cramberry:"1"`
	Chain types.ChainID `cramberry:"2"`
	Size  uint64        `cramberry:"3"`
}

// ConsumedData builds the data of a /consumed query.
func ConsumedData(id types.CallID, kind callid.Consumption) []byte {
	return append(id[:], byte(kind))
}

// BalanceData builds the data of a /balance query.
func BalanceData(asset, holder types.Address) []byte {
	return store.Key(asset[:], holder[:])
}

func (app *App) Query(_ context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	res := types.StateQueryResult{Key: req.Data, Height: app.height}
	if app.relay == nil {
		res.Code, res.Info = relay.CodeInternal, "app not initialized"
		return res, nil
	}
	value, err := app.query(req)
	if err != nil {
		res.Code, res.Info = relay.Code(err), err.Error()
		return res, nil
	}
	res.Value = value
	return res, nil
}

func wantLen(data []byte, n int, what string) error {
	if len(data) != n {
		return fmt.Errorf("%w: data must be %s (%d bytes), got %d", relay.ErrInvalidTx, what, n, len(data))
	}
	return nil
}

func (app *App) query(req types.StateQuery) ([]byte, error) {
	state := stateKV(app.db)
	k := app.relay.Keepers(state)

	switch req.Path {
	case PathApp:
		if err := wantLen(req.Data, 8, "app id"); err != nil {
			return nil, err
		}
		id := store.Uint64FromKey(req.Data)
		a, err := k.Apps.Get(id)
		if err != nil {
			return nil, err
		}
		if a.Budget, err = k.Fees.Budget(id); err != nil {
			return nil, err
		}
		return cramberry.Marshal(&a)

	case PathBudget:
		if err := wantLen(req.Data, 8, "app id"); err != nil {
			return nil, err
		}
		id := store.Uint64FromKey(req.Data)
		if _, err := k.Apps.Get(id); err != nil {
			return nil, err
		}
		b, err := k.Fees.Budget(id)
		return b[:], err

	case PathFeeCurrency:
		if err := wantLen(req.Data, 20, "asset address"); err != nil {
			return nil, err
		}
		p, _, err := k.Fees.FeeCurrency(types.Address(req.Data))
		return p[:], err

	case PathAccrued:
		if err := wantLen(req.Data, 20, "asset address"); err != nil {
			return nil, err
		}
		a, err := k.Fees.Accrued(types.Address(req.Data))
		return a[:], err

	case PathQuote:
		var q QuoteRequest
		if err := cramberry.Unmarshal(req.Data, &q); err != nil {
			return nil, fmt.Errorf("%w: quote request: %v", relay.ErrInvalidTx, err)
		}
		fee, err := k.Fees.Quote(q.AppID, q.Chain, q.Size)
		return fee[:], err

	case PathFees:
		rules, err := k.Fees.Rules()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		for _, r := range rules {
			fmt.Fprintf(&buf, "%d %s %s %s\n", r.AppID, r.Chain, r.Base, r.PerByte)
		}
		return buf.Bytes(), nil

	case PathCallOut, PathCallIn:
		if err := wantLen(req.Data, 32, "call id"); err != nil {
			return nil, err
		}
		side := core.Outbound
		if req.Path == PathCallIn {
			side = core.Inbound
		}
		rec, ok, err := k.Calls.Get(side, types.CallID(req.Data))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %x", relay.ErrUnknownCall, req.Data)
		}
		return cramberry.Marshal(&rec)

	case PathConsumed:
		if err := wantLen(req.Data, 33, "call id and kind"); err != nil {
			return nil, err
		}
		ok, err := k.IDs.IsConsumed(types.CallID(req.Data[:32]), callid.Consumption(req.Data[32]))
		return boolByte(ok), err

	case PathOperators:
		ops, err := k.Operators.All()
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, 20*len(ops))
		for _, op := range ops {
			out = append(out, op[:]...)
		}
		return out, nil

	case PathGovernor:
		gov, err := k.Gov.Governor()
		if err != nil {
			return nil, err
		}
		pending, err := k.Gov.Pending()
		return append(gov[:], pending[:]...), err

	case PathPaused:
		paused, err := k.Gov.Paused()
		return boolByte(paused), err

	case PathNonce:
		if err := wantLen(req.Data, 20, "address"); err != nil {
			return nil, err
		}
		n, err := store.GetUint64(state, nonceKey(types.Address(req.Data)))
		return store.Uint64Key(n), err

	case PathBalance:
		if err := wantLen(req.Data, 40, "asset and holder"); err != nil {
			return nil, err
		}
		b, err := NewBank(state).Balance(types.Address(req.Data[:20]), types.Address(req.Data[20:]))
		return b[:], err

	case PathRecords:
		return app.records(req)
	}
	return nil, fmt.Errorf("%w: unknown query path %q", relay.ErrInvalidTx, req.Path)
}

// records serves committed record batches. With req.Height set it
// returns that height's batch; otherwise Data holds the first height of
// a page of non-empty batches.
func (app *App) records(req types.StateQuery) ([]byte, error) {
	if req.Height != nil {
		v, ok, err := store.Lookup(app.db, recordKey(*req.Height))
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
		return cramberry.Marshal(&types.RecordBatch{Chain: app.relay.Chain(), Height: *req.Height})
	}

	var from uint64
	if len(req.Data) > 0 {
		if err := wantLen(req.Data, 8, "height"); err != nil {
			return nil, err
		}
		from = store.Uint64FromKey(req.Data)
	}
	page := types.RecordPage{Next: app.height + 1}
	var decErr error
	err := app.db.Iterate(recordPrefix, func(key, v []byte) bool {
		h := store.Uint64FromKey(key[len(recordPrefix):])
		if h < from {
			return true
		}
		if len(page.Batches) == MaxRecordPage {
			page.Next = h
			return false
		}
		var batch types.RecordBatch
		if decErr = cramberry.Unmarshal(v, &batch); decErr != nil {
			return false
		}
		page.Batches = append(page.Batches, batch)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("app: decode records: %w", decErr)
	}
	if from > page.Next {
		page.Next = from
	}
	return cramberry.Marshal(&page)
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
