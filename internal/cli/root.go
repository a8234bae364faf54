// Package cli provides the command-line interface for sheetsql.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/engine"
	"github.com/nao1215/sheetsql/internal/config"
	"github.com/nao1215/sheetsql/internal/logging"
	"github.com/nao1215/sheetsql/internal/render"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// configKey stores the loaded configuration in the command context.
type configKey struct{}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sheetsql",
		Short: "Query spreadsheet sheets with SQL",
		Long: `sheetsql queries the sheets of a workbook (or CSV, TSV, LTSV and Parquet
files) with SQL. Reference a sheet as {Sheet Name} and a parameter as :name;
header rows and column types are inferred and loaded sheets are cached.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if !cmd.Root().PersistentFlags().Changed("color") && !isTerminal(cmd) {
				cfg.Color = false
			}

			logger := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if cfg.FileUsed != "" {
				logger.Debug("using config file", "path", cfg.FileUsed)
			}

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = logging.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sheetsql.yaml, then ~/.sheetsql.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	_ = rootCmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.OutputFormats, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("engine", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(engine.DialectSQLite), string(engine.DialectDuckDB)}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newREPLCommand())
	rootCmd.AddCommand(newSheetsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newScaffoldCommand())
	rootCmd.AddCommand(newFunctionsCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the configuration from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return config.Default()
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func styles(cfg *config.Config) *render.Styles {
	return render.NewStyles(cfg.Color)
}

// newWorkspace builds a workspace from the configuration.
func newWorkspace(cfg *config.Config, logger *slog.Logger) (*sheetsql.Workspace, error) {
	dialect, err := engine.ParseDialect(cfg.Engine)
	if err != nil {
		return nil, err
	}

	loaderOpts := sheetsql.LoaderOptions{
		HeaderScanRows: cfg.HeaderScanRows,
		TypeSampleRows: cfg.TypeSampleRows,
		ChunkSize:      cfg.ChunkSize,
	}
	if cfg.MemoryLimitMB > 0 {
		loaderOpts.MemoryLimit = sheetsql.NewMemoryLimit(cfg.MemoryLimitMB)
	}

	return sheetsql.NewWorkspace(
		sheetsql.WithDialect(dialect),
		sheetsql.WithLoaderOptions(loaderOpts),
		sheetsql.WithSettings(sheetsql.SessionSettings{
			Format:        cfg.OutputFormat,
			Limit:         cfg.DisplayLimit,
			MaxColWidth:   cfg.MaxColWidth,
			DefaultHeader: cfg.HeaderRow,
			Strict:        cfg.Strict,
			Timing:        cfg.Timing,
			Color:         cfg.Color,
			ShowSQL:       cfg.ShowSQL,
		}),
		sheetsql.WithTransformOptions(sheetsql.TransformOptions{
			AllowExpressions: cfg.AllowExpressions,
			FailOnError:      cfg.FailOnError,
		}),
		sheetsql.WithLogger(logger),
	)
}

// workspaceFromCmd builds a workspace from the configuration in cmd's context.
func workspaceFromCmd(cmd *cobra.Command) (*sheetsql.Workspace, *config.Config, error) {
	ctx := cmd.Context()
	cfg := GetConfig(ctx)
	ws, err := newWorkspace(cfg, logging.FromContext(ctx))
	if err != nil {
		return nil, nil, err
	}
	return ws, cfg, nil
}
