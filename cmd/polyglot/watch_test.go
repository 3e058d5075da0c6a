package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/config"
)

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyglot.yaml")
	writeFile(t, path, "providers:\n  - id: a\n    priority: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchConfig(ctx, path, zap.NewNop(), func(c *config.Config) error {
			got <- c
			return nil
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "providers:\n  - id: a\n    priority: 7\n")

	select {
	case c := <-got:
		if len(c.Providers) != 1 || c.Providers[0].Priority != 7 {
			t.Errorf("unexpected reloaded config: %+v", c.Providers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchConfig returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchConfigSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyglot.yaml")
	writeFile(t, path, "languages: [python]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Config, 4)
	go func() {
		_ = watchConfig(ctx, path, zap.NewNop(), func(c *config.Config) error {
			got <- c
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "languages: []\n")
	writeFile(t, filepath.Join(dir, "unrelated.yaml"), "x: 1\n")

	select {
	case c := <-got:
		t.Errorf("invalid config should not be applied: %+v", c)
	case <-time.After(time.Second):
	}
}
