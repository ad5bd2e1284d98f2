package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tis24dev/confmigrate/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "confmigrate %s\n", version.String())
			if version.Commit != "" {
				fmt.Fprintf(w, "commit:         %s\n", version.Commit)
			}
			fmt.Fprintf(w, "archive schema: %s\n", version.SchemaVersion)
			return nil
		},
	}
}
