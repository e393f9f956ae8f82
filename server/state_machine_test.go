package server

import (
	"errors"
	"testing"
)

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func readyGuard(t *testing.T) *LifecycleGuard {
	t.Helper()
	g := NewLifecycleGuard()
	mustOK(t, g.AcquireHandshake())
	g.CompleteHandshake()
	return g
}

func TestLifecycleGuard_HappyPath(t *testing.T) {
	g := readyGuard(t)
	if !g.IsReady() {
		t.Fatal("expected Ready after handshake")
	}

	for i := 0; i < 2; i++ {
		mustOK(t, g.AcquireExecute())
		g.CompleteExecute()
		mustOK(t, g.AcquireCommit())
		g.CompleteCommit()
		if !g.IsReady() {
			t.Fatalf("expected Ready after cycle %d", i+1)
		}
	}
	mustOK(t, g.CheckConcurrent("Query"))
}

func TestLifecycleGuard_Violations(t *testing.T) {
	cases := []struct {
		name  string
		call  func(g *LifecycleGuard) error
		state string
	}{
		{"concurrent before handshake", func(g *LifecycleGuard) error { return g.CheckConcurrent("CheckTx") }, "Init"},
		{"execute before handshake", func(g *LifecycleGuard) error { return g.AcquireExecute() }, "Init"},
		{"double handshake", func(g *LifecycleGuard) error {
			_ = g.AcquireHandshake()
			g.CompleteHandshake()
			return g.AcquireHandshake()
		}, "Ready"},
		{"commit without execute", func(g *LifecycleGuard) error {
			_ = g.AcquireHandshake()
			g.CompleteHandshake()
			return g.AcquireCommit()
		}, "Ready"},
		{"execute twice", func(g *LifecycleGuard) error {
			_ = g.AcquireHandshake()
			g.CompleteHandshake()
			_ = g.AcquireExecute()
			g.CompleteExecute()
			return g.AcquireExecute()
		}, "Executed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewLifecycleGuard()
			err := tc.call(g)
			if !errors.Is(err, ErrOutOfOrder) {
				t.Fatalf("expected ErrOutOfOrder, got %v", err)
			}
			if g.State() != tc.state {
				t.Fatalf("refused call moved the guard to %s, want %s", g.State(), tc.state)
			}
		})
	}
}

func TestLifecycleGuard_RefusalReleasesLock(t *testing.T) {
	g := readyGuard(t)
	if err := g.AcquireCommit(); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	// A refused call must not leave the sequence lock held.
	mustOK(t, g.AcquireExecute())
	g.CompleteExecute()
}

func TestLifecycleGuard_FailExecute(t *testing.T) {
	g := readyGuard(t)

	mustOK(t, g.AcquireExecute())
	g.FailExecute()
	if !g.IsReady() {
		t.Fatal("expected Ready after failed execute")
	}

	mustOK(t, g.AcquireExecute())
	g.CompleteExecute()
	mustOK(t, g.AcquireCommit())
	g.CompleteCommit()
}

func TestLifecycleGuard_FailCommit(t *testing.T) {
	g := readyGuard(t)
	mustOK(t, g.AcquireExecute())
	g.CompleteExecute()

	mustOK(t, g.AcquireCommit())
	g.FailCommit()
	if g.State() != "Executed" {
		t.Fatalf("expected Executed after failed commit, got %s", g.State())
	}

	mustOK(t, g.AcquireCommit())
	g.CompleteCommit()
	if !g.IsReady() {
		t.Fatal("expected Ready after retried commit")
	}
}

func TestLifecycleGuard_FailHandshake(t *testing.T) {
	g := NewLifecycleGuard()
	if g.State() != "Init" {
		t.Errorf("expected Init, got %s", g.State())
	}

	mustOK(t, g.AcquireHandshake())
	g.FailHandshake()
	if err := g.CheckConcurrent("Query"); err == nil {
		t.Fatal("failed handshake opened the guard")
	}

	mustOK(t, g.AcquireHandshake())
	g.CompleteHandshake()
	if g.State() != "Ready" {
		t.Errorf("expected Ready, got %s", g.State())
	}
}
