package sessionstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"relaycore/internal/connstate"
	"relaycore/internal/sessionstore"
)

func TestStore_SaveAndLoadClientID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.bbolt")

	store, err := sessionstore.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if got, err := store.LastClientID(); err != nil || got != "" {
		t.Fatalf("LastClientID() = %q, %v, want empty, nil", got, err)
	}

	if err := store.SaveClientID(connstate.ClientID("c1")); err != nil {
		t.Fatalf("SaveClientID() error = %v", err)
	}

	got, err := store.LastClientID()
	if err != nil {
		t.Fatalf("LastClientID() error = %v", err)
	}
	if got != "c1" {
		t.Fatalf("LastClientID() = %q, want c1", got)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.bbolt")

	store, err := sessionstore.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.SaveClientID("c2"); err != nil {
		t.Fatalf("SaveClientID() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := sessionstore.Open(path)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.LastClientID()
	if err != nil {
		t.Fatalf("LastClientID() error = %v", err)
	}
	if got != "c2" {
		t.Fatalf("LastClientID() after reopen = %q, want c2", got)
	}
}

func TestStore_SaveClientID_WritesSnapshotSidecar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.bbolt")

	store, err := sessionstore.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	wantPath := path + ".last_client_id"
	if got := store.SnapshotPath(); got != wantPath {
		t.Fatalf("SnapshotPath() = %q, want %q", got, wantPath)
	}
	if _, err := os.Stat(wantPath); !os.IsNotExist(err) {
		t.Fatalf("snapshot file exists before any SaveClientID call: err = %v", err)
	}

	if err := store.SaveClientID("c3"); err != nil {
		t.Fatalf("SaveClientID() error = %v", err)
	}

	contents, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	if string(contents) != "c3" {
		t.Fatalf("snapshot file contents = %q, want c3", contents)
	}

	if err := store.SaveClientID("c4"); err != nil {
		t.Fatalf("SaveClientID() error = %v", err)
	}
	contents, err = os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("re-read snapshot file: %v", err)
	}
	if string(contents) != "c4" {
		t.Fatalf("snapshot file contents after second save = %q, want c4", contents)
	}
}
