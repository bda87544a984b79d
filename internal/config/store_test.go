package config

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_ReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.yaml", "include_bots: true")

	s, err := NewStore(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first := s.Current()

	var mu sync.Mutex
	var hookErrs []error
	s.OnReload(func(snap *Snapshot, err error) {
		mu.Lock()
		hookErrs = append(hookErrs, err)
		mu.Unlock()
	})

	writeFile(t, dir, "1.yaml", "messages: []")
	snap, err := s.Reload()
	if err == nil {
		t.Fatal("Reload of an invalid directory succeeded")
	}
	if snap != first || s.Current() != first {
		t.Error("failed reload replaced the snapshot")
	}

	writeFile(t, dir, "1.yaml", "include_bots: false")
	if _, err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	g, _ := s.Current().Guild("1")
	if g.Filters.IncludeBots {
		t.Error("successful reload not visible through Current")
	}
	if !first.Guilds["1"].Filters.IncludeBots {
		t.Error("reload mutated the previous snapshot")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hookErrs) != 2 || hookErrs[0] == nil || hookErrs[1] != nil {
		t.Errorf("hook errors = %v, want [error, nil]", hookErrs)
	}
}

func TestNewStore_RejectsInvalidDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.yaml", "reactions: []")
	if _, err := NewStore(dir, discardLogger()); err == nil {
		t.Error("NewStore accepted an invalid directory")
	}
}

func TestStore_WatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.yaml", "include_bots: true")

	s, err := NewStore(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx, 50*time.Millisecond)
		close(done)
	}()

	writeFile(t, dir, "2.yaml", "include_bots: false")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := s.Current().Guild("2"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Watch did not load the new guild file")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
