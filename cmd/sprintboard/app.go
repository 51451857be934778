package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ldi/sprintboard/internal/config"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/logging"
	"github.com/ldi/sprintboard/internal/notify"
	"github.com/ldi/sprintboard/internal/realtime"
	"github.com/ldi/sprintboard/internal/session"
	"github.com/ldi/sprintboard/internal/tracker"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// app carries what every command shares: flags, loaded config and logger.
type app struct {
	configPath string
	dbPath     string
	user       string
	workspace  string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger

	// interactive reports whether stdout is a terminal; tests replace it.
	interactive func() bool
	runMenu     func() (string, error)
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(".", a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db-path") {
		cfg.DBPath = a.dbPath
	}
	if a.user != "" {
		cfg.User = a.user
	}
	if a.workspace != "" {
		cfg.Workspace = a.workspace
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// open opens and migrates the configured database.
func (a *app) open(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func (a *app) tracker(database *db.DB) *tracker.Tracker {
	var mailer notify.Mailer = notify.NopMailer{}
	if a.cfg.Email.Enabled {
		mailer = notify.NewWebhookMailer(a.cfg.Email.WebhookURL, a.cfg.Email.From)
	}
	logger := a.logger.With("component", "tracker")
	return tracker.New(database, notify.NewDispatcher(database, mailer, logger), logger)
}

var errNoUser = errors.New("no user selected: pass --user or set user in the config file")

// actor resolves the configured user email.
func (a *app) actor(ctx context.Context, database *db.DB) (string, error) {
	if a.cfg.User == "" {
		return "", errNoUser
	}
	u, err := database.GetUserByEmail(ctx, a.cfg.User)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("user %s: %w", a.cfg.User, db.ErrNotFound)
	}
	return u.ID, nil
}

// session starts a session for the configured user in the configured
// workspace, or in the user's first workspace when none is configured.
func (a *app) session(ctx context.Context, database *db.DB) (*session.Session, error) {
	userID, err := a.actor(ctx, database)
	if err != nil {
		return nil, err
	}

	var workspaceID string
	if a.cfg.Workspace != "" {
		ws, err := database.GetWorkspaceBySlug(ctx, a.cfg.Workspace)
		if err != nil {
			return nil, err
		}
		if ws == nil {
			return nil, fmt.Errorf("workspace %s: %w", a.cfg.Workspace, db.ErrNotFound)
		}
		workspaceID = ws.ID
	} else {
		workspaces, err := database.ListWorkspacesForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(workspaces) == 0 {
			return nil, fmt.Errorf("user %s belongs to no workspace", a.cfg.User)
		}
		workspaceID = workspaces[0].ID
	}
	return session.Start(ctx, database, userID, workspaceID)
}

// coordinator recomputes derived state after each burst of writes: the
// snapshot export and a debug line of board counts per touched project.
func (a *app) coordinator(database *db.DB) *realtime.Coordinator {
	logger := a.logger.With("component", "realtime")
	return &realtime.Coordinator{
		Debounce: a.cfg.Realtime.Debounce,
		MaxWait:  a.cfg.Realtime.MaxWait,
		Logger:   logger,
		Recompute: func(ctx context.Context, b realtime.Batch) error {
			if a.cfg.SnapshotPath != "" {
				if err := database.ExportSnapshot(ctx, a.cfg.SnapshotPath); err != nil {
					return err
				}
			}
			if !b.Touched("tasks") && !b.Touched("board_columns") {
				return nil
			}
			projects, err := database.ListProjects(ctx, nil)
			if err != nil {
				return err
			}
			for _, p := range projects {
				load, err := database.BoardLoad(ctx, p.ID, nil)
				if err != nil {
					return err
				}
				counts := make([]any, 0, 2*len(load)+2)
				counts = append(counts, "project", p.Key)
				for _, col := range load {
					counts = append(counts, string(col.Status), col.Count)
				}
				logger.Debug("board refreshed", counts...)
			}
			return nil
		},
	}
}

// watch runs the coordinator over database changes until ctx ends. The
// returned function blocks until the coordinator has stopped.
func (a *app) watch(ctx context.Context, database *db.DB) (wait func()) {
	hub := realtime.NewHub(realtime.DefaultBuffer)
	database.SetOnChange(hub.Hook)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.coordinator(database).Run(ctx, hub.Subscribe(ctx)); err != nil {
			a.logger.Error("coordinator stopped", "error", err)
		}
	}()
	return func() { <-done }
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
