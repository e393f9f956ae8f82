// Package server provides the engine-side wrapper around a relay
// application: it enforces the block lifecycle, routes capability-gated
// calls, and publishes committed records to relayers.
package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrOutOfOrder reports a lifecycle call made in the wrong state. The
// call is refused and the guard keeps its state.
var ErrOutOfOrder = errors.New("relay: lifecycle call out of order")

type lifecycleState uint32

const (
	// Waiting for Handshake.
	stateInit lifecycleState = iota
	// Between blocks. CheckTx, Query, Simulate and Records run here and
	// in every later state.
	stateReady
	stateExecuting
	// Commit is the only valid next sequential call.
	stateExecuted
	stateCommitting
)

var stateNames = [...]string{
	stateInit:       "Init",
	stateReady:      "Ready",
	stateExecuting:  "Executing",
	stateExecuted:   "Executed",
	stateCommitting: "Committing",
}

func (s lifecycleState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", s)
}

// LifecycleGuard serializes Handshake, ExecuteBlock and Commit into
// the order the engine promises, and refuses concurrent calls before
// the handshake. Each Acquire that succeeds must be followed by the
// matching Complete or Fail.
type LifecycleGuard struct {
	state atomic.Uint32
	// Held from a successful Acquire until its Complete or Fail.
	seqMu sync.Mutex
	ready atomic.Bool
}

// NewLifecycleGuard creates a guard in the Init state.
func NewLifecycleGuard() *LifecycleGuard {
	return &LifecycleGuard{}
}

// State returns the name of the current lifecycle state.
func (g *LifecycleGuard) State() string {
	return g.current().String()
}

func (g *LifecycleGuard) current() lifecycleState {
	return lifecycleState(g.state.Load())
}

// acquire moves from want to next while holding seqMu. On failure the
// lock is released and the state is untouched.
func (g *LifecycleGuard) acquire(call string, want, next lifecycleState) error {
	g.seqMu.Lock()
	if s := g.current(); s != want {
		g.seqMu.Unlock()
		return fmt.Errorf("%w: %s in state %s, want %s", ErrOutOfOrder, call, s, want)
	}
	g.state.Store(uint32(next))
	return nil
}

func (g *LifecycleGuard) release(to lifecycleState) {
	g.state.Store(uint32(to))
	g.seqMu.Unlock()
}

// AcquireHandshake moves Init to Ready.
func (g *LifecycleGuard) AcquireHandshake() error {
	return g.acquire("Handshake", stateInit, stateReady)
}

// CompleteHandshake opens the guard to concurrent calls.
func (g *LifecycleGuard) CompleteHandshake() {
	g.ready.Store(true)
	g.seqMu.Unlock()
}

// FailHandshake returns to Init so the handshake can be retried.
func (g *LifecycleGuard) FailHandshake() { g.release(stateInit) }

// AcquireExecute moves Ready to Executing.
func (g *LifecycleGuard) AcquireExecute() error {
	return g.acquire("ExecuteBlock", stateReady, stateExecuting)
}

func (g *LifecycleGuard) CompleteExecute() { g.release(stateExecuted) }

// FailExecute returns to Ready so the block can be executed again.
func (g *LifecycleGuard) FailExecute() { g.release(stateReady) }

// AcquireCommit moves Executed to Committing.
func (g *LifecycleGuard) AcquireCommit() error {
	return g.acquire("Commit", stateExecuted, stateCommitting)
}

func (g *LifecycleGuard) CompleteCommit() { g.release(stateReady) }

// FailCommit returns to Executed so the commit of the same block can be
// retried.
func (g *LifecycleGuard) FailCommit() { g.release(stateExecuted) }

// CheckConcurrent refuses concurrent calls until a handshake has
// completed.
func (g *LifecycleGuard) CheckConcurrent(call string) error {
	if !g.ready.Load() {
		return fmt.Errorf("%w: %s before Handshake", ErrOutOfOrder, call)
	}
	return nil
}

// IsReady reports whether the guard is between blocks.
func (g *LifecycleGuard) IsReady() bool {
	return g.current() == stateReady
}
