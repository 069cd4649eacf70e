// Package cmd provides the assistkb CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/saagar210/AssistSupport-sub002/internal/config"
	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/kb"
	"github.com/saagar210/AssistSupport-sub002/internal/logging"
	"github.com/saagar210/AssistSupport-sub002/internal/output"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/pkg/version"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
)

// app holds the global flags and the state shared by subcommands.
type app struct {
	projectDir string
	dataDir    string
	homeRoot   string
	logFile    string
	debug      bool

	logCleanup func()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "assistkb",
		Short: "Local knowledge base with hybrid search",
		Long: `assistkb ingests folders and URL lists into an encrypted local knowledge
base and answers searches that fuse keyword (BM25) and semantic rankings.

Sources are described in YAML or TOML definition files:
  assistkb sources init > sources.yaml
  assistkb ingest --source sources.yaml
  assistkb search --namespace it "reset vpn"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("assistkb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.projectDir, "project", ".", "Directory holding "+config.ProjectFileName)
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "Override paths.data_dir")
	cmd.PersistentFlags().StringVar(&a.homeRoot, "home", "", "Override paths.home_root")
	cmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Log file (default ~/.assistkb/logs/assistkb.log)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to the log file and stderr")

	cmd.PersistentPreRunE = a.startLogging
	cmd.PersistentPostRunE = a.stopLogging

	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newSourcesCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var silent silentError
	if !errors.As(err, &silent) {
		if debug, _ := root.PersistentFlags().GetBool("debug"); debug {
			_, _ = fmt.Fprintln(os.Stderr, kberrors.FormatForUser(err, true))
		} else {
			output.New(os.Stderr).Err(err)
		}
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case kberrors.IsValidation(err):
		return ExitValidation
	default:
		return ExitFailure
	}
}

// silentError has already been reported on stdout.
type silentError struct{ error }

func (e silentError) Unwrap() error { return e.error }

func (a *app) startLogging(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if a.logFile != "" {
		logCfg.FilePath = a.logFile
	}
	if cfg, err := a.config(); err == nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}
	if a.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging is best effort; commands still run.
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: file logging disabled: %v\n", err)
		return nil
	}
	slog.SetDefault(logger)
	a.logCleanup = cleanup
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Version))
	return nil
}

func (a *app) stopLogging(_ *cobra.Command, _ []string) error {
	if a.logCleanup != nil {
		a.logCleanup()
		a.logCleanup = nil
	}
	return nil
}

// config loads the effective configuration with flag overrides applied.
func (a *app) config() (*config.Config, error) {
	cfg, err := config.Load(a.projectDir)
	if err != nil {
		return nil, kberrors.ConfigError(err.Error(), err)
	}
	if a.dataDir != "" {
		cfg.Paths.DataDir = a.dataDir
	}
	if a.homeRoot != "" {
		cfg.Paths.HomeRoot = a.homeRoot
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, kberrors.ConfigError(err.Error(), err)
	}
	return cfg, nil
}

// open loads the configuration and opens the knowledge base.
func (a *app) open(ctx context.Context) (*kb.KB, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return kb.Open(ctx, cfg, kb.Options{})
}

// definitions parses the given source files, or ingest.sources from the
// configuration when none are given.
func (a *app) definitions(files []string) ([]source.Definition, error) {
	if len(files) == 0 {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		files = cfg.Ingest.Sources
	}
	if len(files) == 0 {
		return nil, kberrors.ConfigError("no source definition files", nil).
			WithSuggestion("Pass --source <file> or set ingest.sources in the configuration")
	}
	return source.ParseFiles(files)
}
