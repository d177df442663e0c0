package infra

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetWorkDirCreatesDirectory(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir, err := GetWorkDir(base, "data")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(base, "data") {
		t.Errorf("dir = %s", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("stat = %v, %v", info, err)
	}
}

func TestRecoverableRestartsAfterPanic(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Recoverable("test", 2, func() error {
		calls++
		if calls < 3 {
			panic("boom")
		}
		return errors.New("done")
	})
	if err == nil || err.Error() != "done" {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRecoverableGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Recoverable("test", 1, func() error {
		calls++
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected panic limit error")
	}
	if calls != 2 {
		t.Errorf("calls = %d", calls)
	}
}

func TestWatchFileStopsWithContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ngwarden")
	if err := os.WriteFile(path, []byte("v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := WatchFile(ctx, path, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected change signal")
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchFileSignalsReplacement(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ngwarden")
	if err := os.WriteFile(path, []byte("v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := WatchFile(ctx, path, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("closed without a change signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement not noticed")
	}
}

func TestWatchFileRequiresExistingFile(t *testing.T) {
	t.Parallel()

	if _, err := WatchFile(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatchExecutableDisabled(t *testing.T) {
	t.Parallel()

	select {
	case _, ok := <-WatchExecutable(context.Background(), 0):
		if ok {
			t.Error("unexpected change signal")
		}
	default:
		t.Fatal("disabled watch must be closed")
	}
}
