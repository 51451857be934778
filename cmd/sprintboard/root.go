package main

import (
	"fmt"

	"github.com/ldi/sprintboard/internal/ui"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := &app{runMenu: ui.RunMenu}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sprintboard",
		Short: "Sprintboard - sprint boards, task timelines and team notifications",
		Long: `Sprintboard tracks projects, sprints and tasks on a kanban board. It
keeps a full status history for every task, reconstructs how long each task
spent in each column, and notifies teammates about assignments, status
changes and @-mentions.

Run without arguments in a terminal to pick a command from a menu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive := a.interactive
			if interactive == nil {
				interactive = func() bool { return isTerminal(cmd.OutOrStdout()) }
			}
			if !interactive() {
				return cmd.Help()
			}
			selected, err := a.runMenu()
			if err != nil {
				return fmt.Errorf("menu: %w", err)
			}
			if selected == "" {
				return nil
			}
			sub, _, err := cmd.Find([]string{selected})
			if err != nil {
				return err
			}
			sub.SetContext(cmd.Context())
			return sub.RunE(sub, nil)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file (default .sprintboard/config.yaml)")
	flags.StringVar(&a.dbPath, "db-path", "", "Path to database file")
	flags.StringVar(&a.user, "user", "", "Email of the user to act as")
	flags.StringVar(&a.workspace, "workspace", "", "Workspace slug to act in")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.initCmd(),
		a.serveCmd(),
		a.mcpCmd(),
		a.projectsCmd(),
		a.tasksCmd(),
		a.boardCmd(),
		a.timelineCmd(),
		a.statusCmd(),
		a.snapshotCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "sprintboard %s\ncommit: %s\n", appVersion, appCommit)
			return nil
		},
	}
}
