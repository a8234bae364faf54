package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/nao1215/sheetsql/internal/config"
	"github.com/nao1215/sheetsql/internal/logging"
	"github.com/nao1215/sheetsql/internal/render"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// preloadWorkers bounds concurrent sheet loads.
const preloadWorkers = 4

// RunOptions holds options for the run command.
type RunOptions struct {
	Sheets   []string
	Params   []string
	Output   string
	Template string
	Watch    bool
}

func newRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <workbook> [query]",
		Short: "Run a query against a workbook",
		Long: `Run a SQL query against the sheets of a workbook.

Sheets are referenced as {Sheet Name}; sheets named in placeholders are
loaded on first use. Without a query, the first sheet (or the first
--sheet) is selected.`,
		Example: `  sheetsql run sales.xlsx "SELECT Region, SUM(Amount) FROM {Sales} GROUP BY Region"
  sheetsql run sales.xlsx --sheet "Sales:3" --param start=2024-01-01 \
      "SELECT * FROM {Sales} WHERE Day >= :start"
  sheetsql run sales.xlsx "SELECT * FROM {Sales}" --output result.parquet
  sheetsql run sales.xlsx "SELECT COUNT(*) FROM {Sales}" --watch --interval 10s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 1 {
				query = args[1]
			}
			return runQuery(cmd, args[0], query, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Sheets, "sheet", "s", nil, "sheet to preload as Name[:header] (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "query parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the result to a file; the format follows the extension")
	cmd.Flags().StringVar(&opts.Template, "template", "", "mapping workbook applied to the result")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "re-run the query every --interval until interrupted")

	return cmd
}

type sheetSpec struct {
	name   string
	header int
}

func parseSheetSpecs(specs []string) ([]sheetSpec, error) {
	out := make([]sheetSpec, 0, len(specs))
	for _, s := range specs {
		name, header, err := model.ParseSheetSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sheetSpec{name: name, header: header})
	}
	return out, nil
}

func parseParams(params []string) (map[string]model.Value, error) {
	out := make(map[string]model.Value, len(params))
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q (want name=value)", p)
		}
		out[strings.TrimSpace(name)] = model.ParseParam(value)
	}
	return out, nil
}

// preload loads the sheets concurrently, then binds them in order.
func preload(ctx context.Context, ws *sheetsql.Workspace, specs []sheetSpec) error {
	for _, s := range specs {
		ws.Session().SetHeaderOverride(s.name, s.header)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadWorkers)
	for _, s := range specs {
		s := s
		g.Go(func() error {
			_, err := ws.Relation(gctx, s.name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range specs {
		if _, err := ws.Bind(ctx, s.name, "", 0); err != nil {
			return err
		}
	}
	return nil
}

func runQuery(cmd *cobra.Command, workbook, query string, opts *RunOptions) error {
	ctx := cmd.Context()
	ws, cfg, err := workspaceFromCmd(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	specs, err := parseSheetSpecs(opts.Sheets)
	if err != nil {
		return err
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}

	wb, err := ws.Open(ctx, workbook)
	if err != nil {
		return err
	}
	if err := preload(ctx, ws, specs); err != nil {
		return err
	}
	for name, v := range params {
		if err := ws.Session().SetParam(name, v); err != nil {
			return err
		}
	}
	if opts.Template != "" {
		if err := ws.SetTemplate(ctx, opts.Template); err != nil {
			return err
		}
	}
	if opts.Output != "" && !cmd.Flags().Changed("limit") {
		ws.Session().UpdateSettings(func(s *sheetsql.SessionSettings) { s.Limit = 0 })
	}

	if query == "" {
		query, err = defaultQuery(wb, specs)
		if err != nil {
			return err
		}
	}
	logging.FromContext(ctx).Debug("running query", "workbook", wb.Path(), "query", query)

	out := cmd.OutOrStdout()
	if opts.Watch {
		return watchQuery(ctx, ws, cfg, out, cmd.ErrOrStderr(), query)
	}

	res, err := ws.Query(ctx, query)
	if err != nil {
		return err
	}
	if opts.Output != "" {
		if err := ws.ExportLast(ctx, opts.Output); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", res.Set.Len(), opts.Output)
		return nil
	}
	return printResult(out, cmd.ErrOrStderr(), cfg, res)
}

func defaultQuery(wb *model.Workbook, specs []sheetSpec) (string, error) {
	if len(specs) > 0 {
		return "SELECT * FROM {" + specs[0].name + "}", nil
	}
	names := wb.SheetNames()
	if len(names) == 0 {
		return "", fmt.Errorf("%s has no sheets", wb.Path())
	}
	return "SELECT * FROM {" + names[0] + "}", nil
}

func renderOptions(cfg *config.Config) (render.Options, error) {
	format, err := render.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return render.Options{}, err
	}
	return render.Options{Format: format, MaxColWidth: cfg.MaxColWidth}, nil
}

func printResult(out, errOut io.Writer, cfg *config.Config, res *sheetsql.Result) error {
	st := styles(cfg)
	if cfg.ShowSQL {
		render.Infof(errOut, st, "%s", res.SQL)
	}
	opts, err := renderOptions(cfg)
	if err != nil {
		return err
	}
	if err := render.Result(out, res.Set.Columns, res.Set.Rows, opts); err != nil {
		return err
	}
	if res.Report != nil && res.Report.ErrorCount() > 0 {
		_, _ = fmt.Fprintln(errOut, st.Warning.Render(fmt.Sprintf("%d cell error(s) while applying the template", res.Report.ErrorCount())))
	}
	if cfg.Timing {
		render.Infof(errOut, st, "Time: %s", res.Elapsed)
	}
	return nil
}

func watchQuery(ctx context.Context, ws *sheetsql.Workspace, cfg *config.Config, out, errOut io.Writer, query string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := styles(cfg)
	err := ws.Watch(ctx, query, cfg.WatchInterval, func(res *sheetsql.Result, err error) error {
		_, _ = fmt.Fprintln(out, st.Title.Render(fmt.Sprintf("Every %s: %s", cfg.WatchInterval, time.Now().Format(time.DateTime))))
		if err != nil {
			render.Errorf(errOut, st, "%v", err)
			return nil
		}
		return printResult(out, errOut, cfg, res)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
