package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
	"github.com/spf13/cobra"
)

func TestWatchExportsSnapshot(t *testing.T) {
	env := newTestEnv(t, "ada@example.com")
	config, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	config = append(config, "realtime:\n  debounce: 10ms\n  max_wait: 50ms\n"...)
	if err := os.WriteFile(env.configPath, config, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(env.dbPath), 0755); err != nil {
		t.Fatalf("failed to create db dir: %v", err)
	}

	a := &app{configPath: env.configPath}
	if err := a.load(&cobra.Command{}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	database, err := a.open(ctx)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer database.Close()

	wait := a.watch(ctx, database)
	defer func() {
		cancel()
		wait()
	}()

	if err := database.CreateUser(ctx, &models.User{Email: "ada@example.com", FullName: "Ada Lovelace"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(env.snapshot)
		if err == nil && strings.Contains(string(data), `"email":"ada@example.com"`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot was not exported after a write (err %v)", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
