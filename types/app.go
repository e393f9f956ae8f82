package types

import "fmt"

// ExecutionMode selects how an app authorizes dispatch callers and
// execution targets.
type ExecutionMode uint8

const (
	// ModeOpenCall lets any caller dispatch on the app's budget and any
	// target be executed.
	ModeOpenCall ExecutionMode = 1
	// ModeWhitelistOnly restricts dispatch to the admin and whitelisted
	// callers, and execution to whitelisted targets.
	ModeWhitelistOnly ExecutionMode = 2
)

// Valid reports whether m is a known mode.
func (m ExecutionMode) Valid() bool {
	return m == ModeOpenCall || m == ModeWhitelistOnly
}

func (m ExecutionMode) String() string {
	switch m {
	case ModeOpenCall:
		return "OpenCall"
	case ModeWhitelistOnly:
		return "WhitelistOnly"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// App is a registered application (dapp) and its relay configuration.
type App struct {
	ID           uint64        `cramberry:"1"`
	Admin        Address       `cramberry:"2"`
	PendingAdmin Address       `cramberry:"3"`
	FeeAsset     Address       `cramberry:"4"`
	Mode         ExecutionMode `cramberry:"5"`
	// Sorted ascending, no duplicates.
	Whitelist []Address `cramberry:"6"`
	Budget    Amount    `cramberry:"7"`
}

// FeeRule prices relay traffic to one destination chain:
// fee = Base + PerByte * len(payload).
type FeeRule struct {
	Chain   ChainID `cramberry:"1"`
	Base    Amount  `cramberry:"2"`
	PerByte Amount  `cramberry:"3"`
}
