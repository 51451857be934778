package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the JSONL snapshot",
	}

	path := func(args []string) string {
		if len(args) == 1 {
			return args[0]
		}
		return a.cfg.SnapshotPath
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [path]",
		Short: "Write every record to a JSONL snapshot (default from config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			p := path(args)
			if err := database.ExportSnapshot(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", p)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [path]",
		Short: "Upsert every record from a JSONL snapshot (default from config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			p := path(args)
			if err := database.ImportSnapshot(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported snapshot from %s\n", p)
			return nil
		},
	})
	return cmd
}
