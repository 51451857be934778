package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/tracker"
	"github.com/ldi/sprintboard/internal/ui"
	"github.com/ldi/sprintboard/internal/ui/components"
	"github.com/ldi/sprintboard/pkg/models"
	"github.com/spf13/cobra"
)

// withTracker opens the database and resolves the acting user for fn.
func (a *app) withTracker(ctx context.Context, fn func(tr *tracker.Tracker, actorID string) error) error {
	database, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	actorID, err := a.actor(ctx, database)
	if err != nil {
		return err
	}
	return fn(a.tracker(database), actorID)
}

func (a *app) projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the projects you can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withTracker(ctx, func(tr *tracker.Tracker, actorID string) error {
				projects, err := tr.ListProjects(ctx, actorID, nil)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-8s %-24s %s\n", "KEY", "NAME", "DESCRIPTION")
				fmt.Fprintln(out, strings.Repeat("-", 60))
				for _, p := range projects {
					fmt.Fprintf(out, "%-8s %-24s %s\n", p.Key, p.Name, p.Description)
				}
				return nil
			})
		},
	}
}

func (a *app) tasksCmd() *cobra.Command {
	var status, project string
	var backlog bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withTracker(ctx, func(tr *tracker.Tracker, actorID string) error {
				f := db.TaskFilter{Backlog: backlog}
				if status != "" {
					s := models.TaskStatus(status)
					if !s.Valid() {
						return fmt.Errorf("invalid status %q (want todo, in_progress, review or completed)", status)
					}
					f.Status = &s
				}
				if project != "" {
					p, err := tr.ProjectByKey(ctx, actorID, project)
					if err != nil {
						return err
					}
					f.ProjectID = &p.ID
				}

				tasks, err := tr.ListTasks(ctx, actorID, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-36s %-6s %-30s %-8s %-12s\n", "ID", "PROJ", "TITLE", "PRIORITY", "STATUS")
				fmt.Fprintln(out, strings.Repeat("-", 96))
				for _, t := range tasks {
					fmt.Fprintf(out, "%-36s %-6s %-30s %-8s %-12s\n", t.ID, t.ProjectKey, truncate(t.Title, 30), t.Priority, t.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (todo, in_progress, review, completed)")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project key")
	cmd.Flags().BoolVar(&backlog, "backlog", false, "Only tasks outside any sprint")
	return cmd
}

func (a *app) boardCmd() *cobra.Command {
	var plain bool
	var width int
	cmd := &cobra.Command{
		Use:   "board [project-key]",
		Short: "Show a project board (the first project when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withTracker(ctx, func(tr *tracker.Tracker, actorID string) error {
				p, err := a.pickProject(ctx, tr, actorID, args)
				if err != nil {
					return err
				}
				load := func() (*tracker.Board, error) {
					return tr.Board(ctx, actorID, p.ID)
				}

				interactive := a.interactive
				if interactive == nil {
					interactive = func() bool { return isTerminal(cmd.OutOrStdout()) }
				}
				if !plain && interactive() {
					return ui.RunBoard(load)
				}

				b, err := load()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), components.NewBoard(b, width).View())
				for _, col := range b.Columns {
					if col.Exceeded {
						fmt.Fprintf(cmd.OutOrStdout(), "! %s is over its WIP limit\n", components.ColumnHeader(col))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print the board once instead of opening the viewer")
	cmd.Flags().IntVar(&width, "width", 120, "Width of the printed board")
	return cmd
}

func (a *app) pickProject(ctx context.Context, tr *tracker.Tracker, actorID string, args []string) (*models.Project, error) {
	if len(args) == 1 {
		return tr.ProjectByKey(ctx, actorID, args[0])
	}
	projects, err := tr.ListProjects(ctx, actorID, nil)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("no projects: %w", db.ErrNotFound)
	}
	return projects[0], nil
}

func (a *app) timelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <task-id>",
		Short: "Show how long a task spent in each status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withTracker(ctx, func(tr *tracker.Tracker, actorID string) error {
				task, err := tr.GetTask(ctx, actorID, args[0])
				if err != nil {
					return err
				}
				tl, err := tr.Timeline(ctx, actorID, task.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s)\n", task.Title, tl.CurrentStatus)
				fmt.Fprintf(out, "Total:        %s\n", formatDuration(tl.TotalElapsed))
				fmt.Fprintf(out, "Current step: %s (since %s)\n", formatDuration(tl.CurrentStep), tl.LastStatusChange.Local().Format(time.DateTime))
				fmt.Fprintln(out)
				for _, s := range models.TaskStatuses {
					d, ok := tl.StatusDurations[s]
					if !ok {
						continue
					}
					fmt.Fprintf(out, "  %-12s %10s %5.1f%%\n", s, formatDuration(d), 100*tl.Share(s))
				}
				if tl.MissingNewValues > 0 {
					fmt.Fprintf(out, "\n%d status change(s) had no recorded value and count as todo\n", tl.MissingNewValues)
				}
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of your projects, tasks and notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withTracker(ctx, func(tr *tracker.Tracker, actorID string) error {
				sum, err := tr.Summary(ctx, actorID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Sprintboard Status")
				fmt.Fprintln(out, "==================")
				fmt.Fprintf(out, "Projects:      %d\n", sum.Projects)
				fmt.Fprintf(out, "Total Tasks:   %d\n", sum.Tasks)
				fmt.Fprintf(out, "Unread:        %d\n", sum.Unread)

				fmt.Fprintln(out, "\nTask Breakdown:")
				for _, s := range models.TaskStatuses {
					fmt.Fprintf(out, "  %-12s %d\n", s+":", sum.ByStatus[s])
				}

				if sess, err := a.session(ctx, tr.DB()); err == nil {
					defer sess.Close()
					fmt.Fprintf(out, "\nWorkspace %s as %s", sess.Workspace().Name, sess.Role())
					if sess.Require(access.ActionManageSprint) == nil {
						fmt.Fprint(out, " (can plan sprints)")
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatDuration rounds to minutes and adds days for long spans.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h, m := d/time.Hour, (d%time.Hour)/time.Minute
	if days > 0 {
		return fmt.Sprintf("%dd%dh%02dm", days, h, m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
