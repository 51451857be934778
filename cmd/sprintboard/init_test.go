package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ldi/sprintboard/internal/db"
)

func TestInit(t *testing.T) {
	env := newTestEnv(t, "")

	out := env.mustRun(t, "init")
	if !strings.Contains(out, "Sprintboard initialized successfully") {
		t.Errorf("unexpected output %q", out)
	}

	content, err := os.ReadFile(filepath.Join(env.dir, ".sprintboard", ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if string(content) != "sprintboard.db*\n" {
		t.Errorf(".gitignore content mismatch: got %q", string(content))
	}
	if _, err := os.Stat(env.dbPath); err != nil {
		t.Errorf("database file was not created: %v", err)
	}

	// Running again keeps the existing .gitignore and succeeds.
	out = env.mustRun(t, "init")
	if strings.Contains(out, ".gitignore") {
		t.Errorf("expected .gitignore to be left alone, got %q", out)
	}
}

func TestInitWithSeed(t *testing.T) {
	env := newTestEnv(t, "ada@example.com")

	out := env.mustRun(t, "init", "--seed", demoSeed)
	if !strings.Contains(out, "✓ Seeded 3 users, 1 workspaces, 1 projects, 1 sprints, 3 tasks, 1 comments") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(env.snapshot); err != nil {
		t.Errorf("expected a snapshot after seeding: %v", err)
	}

	if _, err := env.run(t, "init", "--seed", filepath.Join(env.dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing seed file")
	}
}

func TestInitImportsSnapshot(t *testing.T) {
	source := newTestEnv(t, "ada@example.com")
	source.mustRun(t, "init", "--seed", demoSeed)

	env := newTestEnv(t, "ada@example.com")
	if err := os.MkdirAll(filepath.Dir(env.snapshot), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	data, err := os.ReadFile(source.snapshot)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if err := os.WriteFile(env.snapshot, data, 0644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	out := env.mustRun(t, "init")
	if !strings.Contains(out, "✓ Imported snapshot from "+env.snapshot) {
		t.Errorf("unexpected output %q", out)
	}

	database, err := db.Open(env.dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer database.Close()
	tasks, err := database.ListTasks(context.Background(), db.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("expected 3 imported tasks, got %d", len(tasks))
	}
}
