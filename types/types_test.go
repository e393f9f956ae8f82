package types_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay/types"
)

// roundTrip marshals v, unmarshals into a new T, and returns it.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := cramberry.Marshal(v)
	require.NoError(t, err)
	var out T
	require.NoError(t, cramberry.Unmarshal(data, &out))
	return out
}

func TestTimestamp_RoundTrip(t *testing.T) {
	ts := types.TimeToTimestamp(time.Date(2024, 6, 15, 12, 30, 45, 123456789, time.UTC))
	got := roundTrip(t, ts)
	require.Equal(t, ts, got)
	require.Equal(t, 123456789, got.ToTime().Nanosecond())
}

func TestEnvelope_EncodeDecode(t *testing.T) {
	sender := types.HexToAddress("0x00000000000000000000000000000000000000aa")
	msg := types.MsgDispatch{
		AppID:     7,
		Target:    "0x1111111111111111111111111111111111111111",
		DestChain: "250",
		Payload:   []byte{0xde, 0xad},
	}
	tx, err := types.EncodeTx(sender, 3, msg)
	require.NoError(t, err)

	env, decoded, err := types.DecodeTx(tx)
	require.NoError(t, err)
	require.Equal(t, sender, env.Sender)
	require.Equal(t, uint64(3), env.Nonce)
	require.Equal(t, types.MsgKindDispatch, env.Kind)

	d, ok := decoded.(*types.MsgDispatch)
	require.True(t, ok, "decoded %T", decoded)
	require.Equal(t, msg, *d)
}

func TestEnvelope_EmptyMessages(t *testing.T) {
	tx, err := types.EncodeTx(types.Address{1}, 0, types.MsgPause{})
	require.NoError(t, err)
	_, msg, err := types.DecodeTx(tx)
	require.NoError(t, err)
	require.IsType(t, &types.MsgPause{}, msg)
}

func TestDecodeTx_Rejects(t *testing.T) {
	_, _, err := types.DecodeTx(nil)
	require.Error(t, err)

	data, err := cramberry.Marshal(&types.Envelope{Kind: 200})
	require.NoError(t, err)
	_, _, err = types.DecodeTx(data)
	require.ErrorContains(t, err, "unknown message kind")
}

func TestRecord_VariantAccessors(t *testing.T) {
	id := types.CallID{0x42}
	r := types.Record{
		Kind: types.RecordFallbackPending,
		FallbackPending: &types.FallbackPendingRecord{
			AppID:  9,
			CallID: id,
			Reason: []byte("boom"),
		},
	}
	got := roundTrip(t, r)
	require.Equal(t, id, got.CallID())
	require.Equal(t, uint64(9), got.AppID())
	require.Nil(t, got.Dispatch)

	ev := got.Event()
	require.Equal(t, "relay_fallback_pending", ev.Kind)
	require.Equal(t, "call_id", ev.Attributes[1].Key)
	require.Equal(t, id.Hex(), ev.Attributes[1].Value)
}

func TestAmount(t *testing.T) {
	a := types.NewAmount(1_000_000)
	v, ok := a.Uint64()
	require.True(t, ok)
	require.Equal(t, uint64(1_000_000), v)
	require.Equal(t, "1000000", a.String())

	max := types.AmountFromInt(new(uint256.Int).SetAllOne())
	_, ok = max.Uint64()
	require.False(t, ok)
	require.Equal(t, 1, max.Cmp(a))

	parsed, err := types.ParseAmount("600000")
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(600_000), parsed)

	_, err = types.ParseAmount("-1")
	require.Error(t, err)
}

func TestAddress_Hex(t *testing.T) {
	a := types.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", a.Hex())
	require.False(t, a.IsZero())
	require.True(t, types.Address{}.IsZero())
	require.True(t, types.IsHexAddress(a.Hex()))
}

func TestCallState_Terminal(t *testing.T) {
	require.True(t, types.CallExecutedOk.Terminal())
	require.True(t, types.CallFallbackExecuted.Terminal())
	require.False(t, types.CallExecutedFail.Terminal())
	require.False(t, types.CallFallbackPending.Terminal())
	require.Equal(t, "FallbackPending", types.CallFallbackPending.String())
}

func TestExecutionMode_Valid(t *testing.T) {
	require.True(t, types.ModeOpenCall.Valid())
	require.True(t, types.ModeWhitelistOnly.Valid())
	require.False(t, types.ExecutionMode(0).Valid())
	require.False(t, types.ExecutionMode(3).Valid())
}

func TestDeterminism(t *testing.T) {
	v := types.FinalizedBlock{
		Height:        42,
		Time:          types.Timestamp{Seconds: 1000, Nanos: 500},
		Proposer:      types.Address{0xAA},
		Txs:           []types.Tx{[]byte("a"), []byte("b")},
		LastBlockHash: types.Hash{0xFF},
	}
	data1, err := cramberry.Marshal(v)
	require.NoError(t, err)
	data2, err := cramberry.Marshal(v)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data1, data2), "non-deterministic encoding")
}

func TestEvent_Attributes(t *testing.T) {
	ev := types.NewEvent("relay_dispatch", "app_id", "7", "call_id", "0xab")
	ev.Add("payload_size", "12", false)

	v, ok := ev.Attr("call_id")
	require.True(t, ok)
	require.Equal(t, "0xab", v)
	_, ok = ev.Attr("missing")
	require.False(t, ok)

	require.Len(t, ev.Attributes, 3)
	require.True(t, ev.Attributes[0].Index)
	require.False(t, ev.Attributes[2].Index)
}

func TestGateVerdict(t *testing.T) {
	require.True(t, types.GateVerdict{Priority: 3}.Accepted())
	v := types.Reject(4, "bad nonce")
	require.False(t, v.Accepted())
	require.Equal(t, "bad nonce", v.Info)
	require.Equal(t, "revalidation", types.MempoolRevalidation.String())
	require.Equal(t, "unknown", types.MempoolContext(9).String())
}

func TestHandshakeRequest_Validate(t *testing.T) {
	genesis := types.HandshakeRequest{Genesis: &types.GenesisDoc{ChainID: "chain-a"}}
	require.NoError(t, genesis.Validate())
	require.True(t, genesis.IsGenesis())

	restart := types.HandshakeRequest{LastCommitted: &types.BlockID{Height: 4}}
	require.NoError(t, restart.Validate())
	require.False(t, restart.IsGenesis())

	require.Error(t, types.HandshakeRequest{}.Validate())
	restart.Genesis = genesis.Genesis
	require.Error(t, restart.Validate())
}

func TestCapabilities_String(t *testing.T) {
	require.Equal(t, "none", types.Capabilities(0).String())
	require.Equal(t, "simulation+records", (types.CapSimulation | types.CapRecords).String())
	require.Equal(t, "records+0x80", (types.CapRecords | 0x80).String())
	require.Equal(t, types.Capabilities(0x80), types.Capabilities(0x82).Unknown())
}
