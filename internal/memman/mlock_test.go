package memman

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeScratchFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("writing scratch file: %v", err)
	}
	return path
}

func TestMlockReserveAndRelease(t *testing.T) {
	dir := t.TempDir()
	path := writeScratchFile(t, dir, "object.dat", 4096)

	m := NewMlockMemMan(MlockConfig{PageSource: func(TableRef) (string, error) { return path, nil }})
	r, err := m.Reserve(context.Background(), []TableRef{{Table: "Object"}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Resident) != 1 {
		t.Fatalf("resident = %d, want 1", len(r.Resident))
	}
	m.Release(r)
	if len(m.byToken) != 0 {
		t.Fatal("expected release to clear region bookkeeping")
	}
}

func TestMlockReserveStrictFailsOnMissingFile(t *testing.T) {
	m := NewMlockMemMan(MlockConfig{PageSource: func(TableRef) (string, error) { return "/nonexistent/path", nil }})
	_, err := m.Reserve(context.Background(), []TableRef{{Table: "Object"}}, false)
	if err == nil {
		t.Fatal("expected error for missing backing file")
	}
}

func TestMlockReserveFlexibleSkipsMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScratchFile(t, dir, "object.dat", 4096)

	m := NewMlockMemMan(MlockConfig{PageSource: func(ref TableRef) (string, error) {
		if ref.Table == "Object" {
			return path, nil
		}
		return "", os.ErrNotExist
	}})
	r, err := m.Reserve(context.Background(), []TableRef{{Table: "Object"}, {Table: "Missing"}}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Resident) != 1 || r.Resident[0].Table != "Object" {
		t.Fatalf("expected only Object resident, got %+v", r.Resident)
	}
	if !r.Flexible {
		t.Fatal("expected Flexible=true for a partial reservation")
	}
	m.Release(r)
}

func TestMlockReservePanicsWithoutPageSource(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil PageSource")
		}
	}()
	NewMlockMemMan(MlockConfig{})
}
