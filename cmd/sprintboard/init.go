package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ldi/sprintboard/internal/seed"
	"github.com/spf13/cobra"
)

func (a *app) initCmd() *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, import an existing snapshot and optionally seed it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd, seedPath)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with users, workspaces, projects and tasks to load")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command, seedPath string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	dir := filepath.Dir(a.cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}
	fmt.Fprintf(out, "✓ Created %s/ directory\n", dir)

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		pattern := filepath.Base(a.cfg.DBPath) + "*\n"
		if err := os.WriteFile(gitignorePath, []byte(pattern), 0644); err != nil {
			return fmt.Errorf("failed to create .gitignore: %w", err)
		}
		fmt.Fprintf(out, "✓ Created %s\n", gitignorePath)
	}

	database, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	fmt.Fprintf(out, "✓ Initialized database at %s\n", a.cfg.DBPath)

	if a.cfg.SnapshotPath != "" {
		if _, err := os.Stat(a.cfg.SnapshotPath); err == nil {
			if err := database.ImportSnapshot(ctx, a.cfg.SnapshotPath); err != nil {
				return fmt.Errorf("failed to import snapshot: %w", err)
			}
			fmt.Fprintf(out, "✓ Imported snapshot from %s\n", a.cfg.SnapshotPath)
		}
	}

	if seedPath != "" {
		f, err := seed.Load(seedPath)
		if err != nil {
			return err
		}
		res, err := seed.Apply(ctx, database, f)
		if err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
		fmt.Fprintf(out, "✓ Seeded %s\n", res)
		a.logger.Info("seeded database", "path", seedPath, "tasks", res.Tasks)

		if a.cfg.SnapshotPath != "" {
			if err := database.ExportSnapshot(ctx, a.cfg.SnapshotPath); err != nil {
				return fmt.Errorf("failed to export snapshot: %w", err)
			}
		}
	}

	fmt.Fprintln(out, "✓ Sprintboard initialized successfully")
	return nil
}
