package main

import (
	"context"

	"github.com/ldi/sprintboard/internal/mcp"
	"github.com/spf13/cobra"
)

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			sess, err := a.session(cmd.Context(), database)
			if err != nil {
				return err
			}
			defer sess.Close()

			// Snapshot exports follow the session: they stop when it closes.
			watchCtx, cancel := context.WithCancel(sess.Context())
			wait := a.watch(watchCtx, database)
			sess.OnClose(func() {
				cancel()
				wait()
			})

			a.logger.Info("mcp session started", "user", sess.User().Email, "workspace", sess.Workspace().Slug, "role", sess.Role())
			s := mcp.NewServer(a.tracker(database), sess.UserID(), appVersion)
			return mcp.Serve(s)
		},
	}
}
