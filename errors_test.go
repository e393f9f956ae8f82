package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaltError(t *testing.T) {
	err := NewHaltError(42, "state root mismatch")
	require.Equal(t, uint64(42), err.Height)
	require.Equal(t, "HALT at height 42: state root mismatch", err.Error())
}

func TestIsHalt(t *testing.T) {
	haltErr := NewHaltError(10, "divergence")

	h, ok := IsHalt(haltErr)
	require.True(t, ok)
	require.Equal(t, uint64(10), h.Height)

	h, ok = IsHalt(fmt.Errorf("wrapped: %w", haltErr))
	require.True(t, ok)
	require.Equal(t, uint64(10), h.Height)

	_, ok = IsHalt(errors.New("just a regular error"))
	require.False(t, ok)

	_, ok = IsHalt(nil)
	require.False(t, ok)
}

func TestRoleErrorsAreNotAuthorized(t *testing.T) {
	for _, err := range []error{ErrNotOperator, ErrNotAdmin, ErrNotGovernor} {
		require.ErrorIs(t, err, ErrNotAuthorized)
		require.Equal(t, CodeNotAuthorized, Code(fmt.Errorf("execute: %w", err)))
	}
}

func TestCode(t *testing.T) {
	require.Equal(t, CodeOK, Code(nil))
	require.Equal(t, CodeAlreadyConsumed, Code(fmt.Errorf("call 0x01: %w", ErrAlreadyConsumed)))
	require.Equal(t, CodeInsufficientBudget, Code(ErrInsufficientBudget))
	require.Equal(t, CodeInternal, Code(errors.New("disk on fire")))

	require.ErrorIs(t, CodeError(CodeUnknownCall), ErrUnknownCall)
	require.Nil(t, CodeError(CodeOK))
	require.Nil(t, CodeError(CodeInternal))
}
