package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"relaycore/internal/infra/lifecycle"
)

func TestManager_StartAllRespectsDependencyOrder(t *testing.T) {
	t.Parallel()

	lc := lifecycle.New(context.Background())
	var order []string

	if err := lc.Register("db", nil, func(context.Context) error {
		order = append(order, "db-start")
		return nil
	}, func(context.Context) error {
		order = append(order, "db-stop")
		return nil
	}); err != nil {
		t.Fatalf("Register(db) error = %v", err)
	}

	if err := lc.Register("server", []string{"db"}, func(context.Context) error {
		order = append(order, "server-start")
		return nil
	}, func(context.Context) error {
		order = append(order, "server-stop")
		return nil
	}); err != nil {
		t.Fatalf("Register(server) error = %v", err)
	}

	if err := lc.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"db-start", "server-start", "server-stop", "db-stop"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestManager_RegisterRejectsSelfDependencyAndDuplicateName(t *testing.T) {
	t.Parallel()

	lc := lifecycle.New(context.Background())
	noop := func(context.Context) error { return nil }

	if err := lc.Register("a", []string{"a"}, noop, noop); err == nil {
		t.Fatalf("Register with self-dependency: want error, got nil")
	}

	if err := lc.Register("a", nil, noop, noop); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if err := lc.Register("a", nil, noop, noop); err == nil {
		t.Fatalf("Register duplicate name: want error, got nil")
	}
}

func TestManager_StartAllFailureStopsOnlyWhatStarted(t *testing.T) {
	t.Parallel()

	lc := lifecycle.New(context.Background())
	var order []string
	wantErr := errors.New("boom")

	if err := lc.Register("a", nil, func(context.Context) error {
		order = append(order, "a-start")
		return nil
	}, func(context.Context) error {
		order = append(order, "a-stop")
		return nil
	}); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}

	if err := lc.Register("b", []string{"a"}, func(context.Context) error {
		order = append(order, "b-start")
		return wantErr
	}, func(context.Context) error {
		order = append(order, "b-stop")
		return nil
	}); err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}

	err := lc.StartAll()
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("StartAll() error = %v, want wrapping %v", err, wantErr)
	}

	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// b never reached Running (its start returned an error), so Shutdown
	// must not call its stop hook — only a, which did start, gets stopped.
	want := []string{"a-start", "b-start", "a-stop"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestManager_ShutdownCancelsSharedContext(t *testing.T) {
	t.Parallel()

	lc := lifecycle.New(context.Background())
	var sawCancelOnStop bool

	if err := lc.Register("a", nil, func(context.Context) error {
		return nil
	}, func(ctx context.Context) error {
		sawCancelOnStop = ctx.Err() != nil
		return nil
	}); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}

	if err := lc.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !sawCancelOnStop {
		t.Fatalf("stop hook observed a live context; want it already cancelled")
	}
}
