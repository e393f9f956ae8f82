package types

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// MsgKind selects the message carried in an Envelope body.
type MsgKind uint8

const (
	MsgKindRegisterApp MsgKind = iota + 1
	MsgKindUpdateApp
	MsgKindAddWhitelist
	MsgKindDelWhitelist
	MsgKindDelegateAdmin
	MsgKindApplyAdmin
	MsgKindDeposit
	MsgKindWithdrawBudget
	MsgKindDispatch
	MsgKindBroadcast
	MsgKindExecute
	MsgKindFallback
	MsgKindAddOperator
	MsgKindRevokeOperator
	MsgKindSetDefaultFee
	MsgKindSetAppFee
	MsgKindWithdrawFees
	MsgKindChangeGov
	MsgKindApplyGov
	MsgKindPause
	MsgKindUnpause
	MsgKindAddSupportedCaller
	MsgKindRevokeSupportedCaller
	MsgKindTransfer
	MsgKindSetFeeCurrency
	MsgKindDisableFeeCurrency
)

var msgKindNames = map[MsgKind]string{
	MsgKindRegisterApp:           "register_app",
	MsgKindUpdateApp:             "update_app",
	MsgKindAddWhitelist:          "add_whitelist",
	MsgKindDelWhitelist:          "del_whitelist",
	MsgKindDelegateAdmin:         "delegate_admin",
	MsgKindApplyAdmin:            "apply_admin",
	MsgKindDeposit:               "deposit",
	MsgKindWithdrawBudget:        "withdraw_budget",
	MsgKindDispatch:              "dispatch",
	MsgKindBroadcast:             "broadcast",
	MsgKindExecute:               "execute",
	MsgKindFallback:              "fallback",
	MsgKindAddOperator:           "add_operator",
	MsgKindRevokeOperator:        "revoke_operator",
	MsgKindSetDefaultFee:         "set_default_fee",
	MsgKindSetAppFee:             "set_app_fee",
	MsgKindWithdrawFees:          "withdraw_fees",
	MsgKindChangeGov:             "change_gov",
	MsgKindApplyGov:              "apply_gov",
	MsgKindPause:                 "pause",
	MsgKindUnpause:               "unpause",
	MsgKindAddSupportedCaller:    "add_supported_caller",
	MsgKindRevokeSupportedCaller: "revoke_supported_caller",
	MsgKindTransfer:              "transfer",
	MsgKindSetFeeCurrency:        "set_fee_currency",
	MsgKindDisableFeeCurrency:    "disable_fee_currency",
}

func (k MsgKind) String() string {
	if name, ok := msgKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Msg is implemented by every transaction body.
type Msg interface {
	Kind() MsgKind
}

// Envelope is the wire form of a relay transaction. The host engine
// authenticates Sender; Nonce orders a sender's transactions and makes
// every envelope unique.
type Envelope struct {
	Sender Address `cramberry:"1"`
	Nonce  uint64  `cramberry:"2"`
	Kind   MsgKind `cramberry:"3"`
	Body   []byte  `cramberry:"4"`
}

type MsgRegisterApp struct {
	FeeAsset  Address       `cramberry:"1"`
	Admin     Address       `cramberry:"2"`
	Mode      ExecutionMode `cramberry:"3"`
	Whitelist []Address     `cramberry:"4"`
}

type MsgUpdateApp struct {
	AppID    uint64        `cramberry:"1"`
	FeeAsset Address       `cramberry:"2"`
	Mode     ExecutionMode `cramberry:"3"`
}

type MsgAddWhitelist struct {
	AppID uint64    `cramberry:"1"`
	Addrs []Address `cramberry:"2"`
}

type MsgDelWhitelist struct {
	AppID uint64    `cramberry:"1"`
	Addrs []Address `cramberry:"2"`
}

type MsgDelegateAdmin struct {
	AppID    uint64  `cramberry:"1"`
	NewAdmin Address `cramberry:"2"`
}

type MsgApplyAdmin struct {
	AppID uint64 `cramberry:"1"`
}

type MsgDeposit struct {
	AppID  uint64 `cramberry:"1"`
	Amount Amount `cramberry:"2"`
}

type MsgWithdrawBudget struct {
	AppID  uint64  `cramberry:"1"`
	To     Address `cramberry:"2"`
	Amount Amount  `cramberry:"3"`
}

type MsgDispatch struct {
	AppID     uint64  `cramberry:"1"`
	Target    string  `cramberry:"2"`
	DestChain ChainID `cramberry:"3"`
	Payload   []byte  `cramberry:"4"`
}

// MsgBroadcast dispatches one payload to Targets[i] on DestChains[i].
type MsgBroadcast struct {
	AppID      uint64    `cramberry:"1"`
	Targets    []string  `cramberry:"2"`
	DestChains []ChainID `cramberry:"3"`
	Payload    []byte    `cramberry:"4"`
}

type MsgExecute struct {
	AppID       uint64  `cramberry:"1"`
	CallID      CallID  `cramberry:"2"`
	Target      Address `cramberry:"3"`
	OriginChain ChainID `cramberry:"4"`
	OriginTxRef string  `cramberry:"5"`
	FallbackTo  string  `cramberry:"6"`
	Payload     []byte  `cramberry:"7"`
}

// MsgFallback delivers a fallback payload to the origin chain.
// OriginChain is the chain the failure report comes from.
type MsgFallback struct {
	AppID           uint64  `cramberry:"1"`
	CallID          CallID  `cramberry:"2"`
	OriginChain     ChainID `cramberry:"3"`
	FailTxRef       string  `cramberry:"4"`
	FallbackPayload []byte  `cramberry:"5"`
}

type MsgAddOperator struct {
	Operator Address `cramberry:"1"`
}

type MsgRevokeOperator struct {
	Operator Address `cramberry:"1"`
}

type MsgSetDefaultFee struct {
	Chain   ChainID `cramberry:"1"`
	Base    Amount  `cramberry:"2"`
	PerByte Amount  `cramberry:"3"`
}

type MsgSetAppFee struct {
	AppID   uint64  `cramberry:"1"`
	Chain   ChainID `cramberry:"2"`
	Base    Amount  `cramberry:"3"`
	PerByte Amount  `cramberry:"4"`
}

type MsgWithdrawFees struct {
	Asset  Address `cramberry:"1"`
	To     Address `cramberry:"2"`
	Amount Amount  `cramberry:"3"`
}

type MsgChangeGov struct {
	Next Address `cramberry:"1"`
}

type MsgApplyGov struct{}

type MsgPause struct{}

type MsgUnpause struct{}

type MsgAddSupportedCaller struct {
	Caller Address `cramberry:"1"`
}

type MsgRevokeSupportedCaller struct {
	Caller Address `cramberry:"1"`
}

// MsgTransfer moves fee assets between accounts of the in-state bank.
type MsgTransfer struct {
	Asset  Address `cramberry:"1"`
	To     Address `cramberry:"2"`
	Amount Amount  `cramberry:"3"`
}

// MsgSetFeeCurrency enables Asset as a fee asset at Price, or reprices
// it. Governor only.
type MsgSetFeeCurrency struct {
	Asset Address `cramberry:"1"`
	Price Amount  `cramberry:"2"`
}

// MsgDisableFeeCurrency removes Asset from the fee asset allow-list.
type MsgDisableFeeCurrency struct {
	Asset Address `cramberry:"1"`
}

func (MsgRegisterApp) Kind() MsgKind           { return MsgKindRegisterApp }
func (MsgUpdateApp) Kind() MsgKind             { return MsgKindUpdateApp }
func (MsgAddWhitelist) Kind() MsgKind          { return MsgKindAddWhitelist }
func (MsgDelWhitelist) Kind() MsgKind          { return MsgKindDelWhitelist }
func (MsgDelegateAdmin) Kind() MsgKind         { return MsgKindDelegateAdmin }
func (MsgApplyAdmin) Kind() MsgKind            { return MsgKindApplyAdmin }
func (MsgDeposit) Kind() MsgKind               { return MsgKindDeposit }
func (MsgWithdrawBudget) Kind() MsgKind        { return MsgKindWithdrawBudget }
func (MsgDispatch) Kind() MsgKind              { return MsgKindDispatch }
func (MsgBroadcast) Kind() MsgKind             { return MsgKindBroadcast }
func (MsgExecute) Kind() MsgKind               { return MsgKindExecute }
func (MsgFallback) Kind() MsgKind              { return MsgKindFallback }
func (MsgAddOperator) Kind() MsgKind           { return MsgKindAddOperator }
func (MsgRevokeOperator) Kind() MsgKind        { return MsgKindRevokeOperator }
func (MsgSetDefaultFee) Kind() MsgKind         { return MsgKindSetDefaultFee }
func (MsgSetAppFee) Kind() MsgKind             { return MsgKindSetAppFee }
func (MsgWithdrawFees) Kind() MsgKind          { return MsgKindWithdrawFees }
func (MsgChangeGov) Kind() MsgKind             { return MsgKindChangeGov }
func (MsgApplyGov) Kind() MsgKind              { return MsgKindApplyGov }
func (MsgPause) Kind() MsgKind                 { return MsgKindPause }
func (MsgUnpause) Kind() MsgKind               { return MsgKindUnpause }
func (MsgAddSupportedCaller) Kind() MsgKind    { return MsgKindAddSupportedCaller }
func (MsgRevokeSupportedCaller) Kind() MsgKind { return MsgKindRevokeSupportedCaller }
func (MsgTransfer) Kind() MsgKind              { return MsgKindTransfer }
func (MsgSetFeeCurrency) Kind() MsgKind        { return MsgKindSetFeeCurrency }
func (MsgDisableFeeCurrency) Kind() MsgKind    { return MsgKindDisableFeeCurrency }

func newMsg(kind MsgKind) (Msg, error) {
	switch kind {
	case MsgKindRegisterApp:
		return &MsgRegisterApp{}, nil
	case MsgKindUpdateApp:
		return &MsgUpdateApp{}, nil
	case MsgKindAddWhitelist:
		return &MsgAddWhitelist{}, nil
	case MsgKindDelWhitelist:
		return &MsgDelWhitelist{}, nil
	case MsgKindDelegateAdmin:
		return &MsgDelegateAdmin{}, nil
	case MsgKindApplyAdmin:
		return &MsgApplyAdmin{}, nil
	case MsgKindDeposit:
		return &MsgDeposit{}, nil
	case MsgKindWithdrawBudget:
		return &MsgWithdrawBudget{}, nil
	case MsgKindDispatch:
		return &MsgDispatch{}, nil
	case MsgKindBroadcast:
		return &MsgBroadcast{}, nil
	case MsgKindExecute:
		return &MsgExecute{}, nil
	case MsgKindFallback:
		return &MsgFallback{}, nil
	case MsgKindAddOperator:
		return &MsgAddOperator{}, nil
	case MsgKindRevokeOperator:
		return &MsgRevokeOperator{}, nil
	case MsgKindSetDefaultFee:
		return &MsgSetDefaultFee{}, nil
	case MsgKindSetAppFee:
		return &MsgSetAppFee{}, nil
	case MsgKindWithdrawFees:
		return &MsgWithdrawFees{}, nil
	case MsgKindChangeGov:
		return &MsgChangeGov{}, nil
	case MsgKindApplyGov:
		return &MsgApplyGov{}, nil
	case MsgKindPause:
		return &MsgPause{}, nil
	case MsgKindUnpause:
		return &MsgUnpause{}, nil
	case MsgKindAddSupportedCaller:
		return &MsgAddSupportedCaller{}, nil
	case MsgKindRevokeSupportedCaller:
		return &MsgRevokeSupportedCaller{}, nil
	case MsgKindTransfer:
		return &MsgTransfer{}, nil
	case MsgKindSetFeeCurrency:
		return &MsgSetFeeCurrency{}, nil
	case MsgKindDisableFeeCurrency:
		return &MsgDisableFeeCurrency{}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %d", uint8(kind))
	}
}

// EncodeTx wraps msg in an envelope and serializes it.
func EncodeTx(sender Address, nonce uint64, msg Msg) (Tx, error) {
	body, err := cramberry.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	data, err := cramberry.Marshal(&Envelope{
		Sender: sender,
		Nonce:  nonce,
		Kind:   msg.Kind(),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return Tx(data), nil
}

// DecodeTx parses an envelope and its message body. The returned Msg
// is a pointer to one of the Msg* structs.
func DecodeTx(tx Tx) (Envelope, Msg, error) {
	var env Envelope
	if len(tx) == 0 {
		return env, nil, fmt.Errorf("empty transaction")
	}
	if err := cramberry.Unmarshal(tx, &env); err != nil {
		return env, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	msg, err := newMsg(env.Kind)
	if err != nil {
		return env, nil, err
	}
	if err := cramberry.Unmarshal(env.Body, msg); err != nil {
		return env, nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return env, msg, nil
}
