// Package types defines the data types shared by the relay application,
// its transports and the off-chain relayer.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. Transport concerns
// (gRPC codec registration) are handled in the transport packages.
package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Hash is a 32-byte cryptographic hash.
type Hash [32]byte

// AppHash is a deterministic fingerprint of the application
// state after execution.
type AppHash [32]byte

// Tx is an opaque application transaction.
// The consensus engine never inspects its contents.
type Tx []byte

// QueryPath is a structured key for state queries
// (e.g., "/budget", "/call/out").
type QueryPath string

// BlockID uniquely identifies a point in the chain.
type BlockID struct {
	Height uint64 `cramberry:"1"`
	Hash   Hash   `cramberry:"2"`
}

// ChainID names a chain in the relay network. Chain identifiers are
// opaque strings ("250", "ethereum-mainnet").
type ChainID string

// Address is a 20-byte account or endpoint address.
type Address [20]byte

// HexToAddress parses a hex address, with or without 0x prefix.
// Invalid input yields the zero address.
func HexToAddress(s string) Address {
	return Address(common.HexToAddress(s))
}

// IsHexAddress reports whether s is a well-formed hex address.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Hex returns the EIP-55 checksummed hex form.
func (a Address) Hex() string { return common.Address(a).Hex() }

func (a Address) String() string { return a.Hex() }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// CallID uniquely identifies one cross-chain call attempt.
type CallID [32]byte

// Hex returns the 0x-prefixed hex form.
func (id CallID) Hex() string { return common.Hash(id).Hex() }

func (id CallID) String() string { return id.Hex() }

// IsZero reports whether id is unset.
func (id CallID) IsZero() bool { return id == CallID{} }

// HexToCallID parses a hex call identifier.
func HexToCallID(s string) CallID {
	return CallID(common.HexToHash(s))
}
