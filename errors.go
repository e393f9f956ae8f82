package relay

import (
	"errors"
	"fmt"
)

// Error kinds. Role-specific errors wrap ErrNotAuthorized so callers can
// match either the kind or the exact role.
var (
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotOperator        = fmt.Errorf("%w: caller is not an operator", ErrNotAuthorized)
	ErrNotAdmin           = fmt.Errorf("%w: caller is not the app admin", ErrNotAuthorized)
	ErrNotGovernor        = fmt.Errorf("%w: caller is not the governor", ErrNotAuthorized)
	ErrAlreadyConsumed    = errors.New("call already consumed")
	ErrUnknownCall        = errors.New("unknown call")
	ErrUnknownApp         = errors.New("unknown app")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrUnpricedChain      = errors.New("no fee rule for chain")
	ErrInvalidMode        = errors.New("invalid execution mode")
	ErrOverflow           = errors.New("amount overflow")
	ErrPaused             = errors.New("relay is paused")
	ErrInvalidTx          = errors.New("invalid transaction")
	ErrBadNonce           = errors.New("bad nonce")
)

// Result codes carried in TxOutcome.Code and GateVerdict.Code.
const (
	CodeOK                 uint32 = 0
	CodeInvalidTx          uint32 = 1
	CodeBadNonce           uint32 = 2
	CodeNotAuthorized      uint32 = 10
	CodeAlreadyConsumed    uint32 = 11
	CodeUnknownCall        uint32 = 12
	CodeInsufficientBudget uint32 = 13
	CodeUnpricedChain      uint32 = 14
	CodeInvalidMode        uint32 = 15
	CodeOverflow           uint32 = 16
	CodePaused             uint32 = 17
	CodeUnknownApp         uint32 = 18
	CodeInternal           uint32 = 99
)

var codes = []struct {
	err  error
	code uint32
}{
	{ErrNotAuthorized, CodeNotAuthorized},
	{ErrAlreadyConsumed, CodeAlreadyConsumed},
	{ErrUnknownCall, CodeUnknownCall},
	{ErrInsufficientBudget, CodeInsufficientBudget},
	{ErrUnpricedChain, CodeUnpricedChain},
	{ErrInvalidMode, CodeInvalidMode},
	{ErrOverflow, CodeOverflow},
	{ErrPaused, CodePaused},
	{ErrUnknownApp, CodeUnknownApp},
	{ErrBadNonce, CodeBadNonce},
	{ErrInvalidTx, CodeInvalidTx},
}

// Code maps an error to its result code. nil maps to CodeOK; errors
// outside the taxonomy map to CodeInternal.
func Code(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// CodeError returns the sentinel for a result code, or nil for CodeOK
// and unknown codes. Used by clients that only see outcomes.
func CodeError(code uint32) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// HaltError signals that the application detected an irrecoverable
// inconsistency and requests an immediate chain halt.
//
// When the engine receives a HaltError from ExecuteBlock, it must
// stop consensus, log the error, and not proceed to Commit.
type HaltError struct {
	Reason string
	Height uint64
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("HALT at height %d: %s", e.Height, e.Reason)
}

// NewHaltError creates a new HaltError.
func NewHaltError(height uint64, reason string) *HaltError {
	return &HaltError{Height: height, Reason: reason}
}

// IsHalt checks whether an error is a HaltError and returns it.
func IsHalt(err error) (*HaltError, bool) {
	var h *HaltError
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}
