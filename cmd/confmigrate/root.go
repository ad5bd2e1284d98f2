package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tis24dev/confmigrate/internal/config"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/input"
	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/orchestrator"
	"github.com/tis24dev/confmigrate/internal/types"
	"github.com/tis24dev/confmigrate/internal/version"
	"golang.org/x/term"
)

var readPassword input.PasswordReader = term.ReadPassword

type rootOptions struct {
	configPath    string
	noColor       bool
	askPassphrase bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "confmigrate",
		Short:         "Export, import and decrypt system configuration archives",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: ./confmigrate.yaml)")
	flags.String("home", "", "home directory of the installation")
	flags.String("export-dir", "", "export directory, relative to home")
	flags.String("product-version", "", "product version of the installation")
	flags.String("cipher", "", "archive cipher: aes-cbc, age or none")
	flags.String("log-level", "", "log level: debug, info, warning, error")
	flags.String("log-file", "", "also write the log to this file")
	flags.String("metrics-dir", "", "write Prometheus textfile metrics to this directory")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newExportCmd(opts),
		newImportCmd(opts),
		newDecryptCmd(opts),
		newMigratablesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// session is everything a migration command needs once the configuration
// has been loaded.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	manager *orchestrator.ConfigurationMigrationManager
}

func (s *session) close() {
	if err := s.logger.CloseLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

func newSession(cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := config.LoadConfig(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, withExitCode(types.ExitConfigError, err)
	}
	if opts.askPassphrase {
		if cfg.Cipher != crypt.AlgorithmAES {
			return nil, withExitCode(types.ExitConfigError, fmt.Errorf("passphrase is only supported with the %s cipher", crypt.AlgorithmAES))
		}
		pass, err := promptPassphrase(cmd)
		if err != nil {
			return nil, withExitCode(types.ExitConfigError, err)
		}
		cfg.Passphrase = pass
	}

	logger := logging.New(cfg.LogLevel, cfg.UseColor && !opts.noColor)
	logger.SetOutput(cmd.OutOrStdout())
	logging.SetDefaultLogger(logger)
	if cfg.LogFile != "" {
		if err := logger.OpenLogFile(cfg.LogFile); err != nil {
			logger.Warning("Failed to open log file %s: %v", cfg.LogFile, err)
		}
	}
	if cfg.ConfigFile != "" {
		logger.Debug("Configuration loaded from %s", cfg.ConfigFile)
	}

	mgr, err := orchestrator.NewFromConfig(cfg, logger, version.String())
	if err != nil {
		logger.CloseLogFile()
		return nil, withExitCode(types.ExitConfigError, err)
	}
	return &session{cfg: cfg, logger: logger, manager: mgr}, nil
}

func promptPassphrase(cmd *cobra.Command) (string, error) {
	return input.PromptPassphrase(cmd.Context(), cmd.ErrOrStderr(), readPassword, int(os.Stdin.Fd()), "Archive passphrase: ", true)
}
