package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newMigratablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migratables",
		Short: "List the registered components in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tVERSION\tTITLE\tORGANIZATION")
			for _, m := range s.manager.Migratables() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID(), m.Version(), m.Title(), m.Organization())
			}
			return tw.Flush()
		},
	}
}
