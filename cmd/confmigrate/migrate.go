package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tis24dev/confmigrate/internal/orchestrator"
)

type runFunc func(m *orchestrator.ConfigurationMigrationManager, ctx context.Context, exportDir string) (*orchestrator.RunStats, error)

func newExportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the configuration into an encrypted archive",
		Long: `Export the configuration of every registered component into
exported-<product version>.dar inside the export directory. The key and
checksum files are written next to the archive; both must travel with it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, (*orchestrator.ConfigurationMigrationManager).Export)
		},
	}
	cmd.Flags().BoolVar(&opts.askPassphrase, "ask-passphrase", false, "prompt for the passphrase deriving the AES key")
	cmd.Flags().String("min-free-space", "", "free space required in the export directory, e.g. 500MB")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import the configuration from an exported archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, (*orchestrator.ConfigurationMigrationManager).Import)
		},
	}
}

func newDecryptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Write a plain copy of an exported archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, (*orchestrator.ConfigurationMigrationManager).Decrypt)
		},
	}
}

func runMigration(cmd *cobra.Command, opts *rootOptions, fn runFunc) error {
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	stats, err := fn(s.manager, cmd.Context(), s.cfg.ExportDir)
	printSummary(cmd.OutOrStdout(), stats)
	if err != nil {
		return withExitCode(orchestrator.ExitCodeFor(err), err)
	}
	return nil
}
