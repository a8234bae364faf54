package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/nao1215/sheetsql/internal/logging"
	"github.com/nao1215/sheetsql/internal/render"
	"github.com/nao1215/sheetsql/internal/repl"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errMappingInvalid is returned by validate when the mapping has errors.
var errMappingInvalid = errors.New("mapping has errors")

func newREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl [workbook]",
		Short: "Start the interactive shell",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, cfg, err := workspaceFromCmd(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			if len(args) == 1 {
				if _, err := ws.Open(ctx, args[0]); err != nil {
					return err
				}
			}
			return repl.New(ws, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()).Run(ctx)
		},
	}
}

func newSheetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets <workbook>",
		Short: "List the sheets of a workbook with their inferred header rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, _, err := workspaceFromCmd(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			wb, err := ws.Open(ctx, args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(wb.Sheets()))
			for _, sh := range wb.Sheets() {
				header := "-"
				if insp, err := ws.HeaderRow(ctx, sh.Name); err == nil {
					header = strconv.Itoa(insp.Row)
				} else {
					logging.FromContext(ctx).Debug("no header row", "sheet", sh.Name, "error", err)
				}
				rows = append(rows, []string{sh.Name, strconv.Itoa(sh.Rows), strconv.Itoa(sh.Cols), header})
			}
			render.Table(cmd.OutOrStdout(), []string{"Sheet", "Rows", "Cols", "Header"}, rows)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	var (
		source       string
		sheets       []string
		mappingSheet string
		noFail       bool
	)

	cmd := &cobra.Command{
		Use:   "validate <mapping> --source <workbook>",
		Short: "Check a mapping sheet against source sheets",
		Long: `Validate every source_expression of a mapping sheet against the columns
of the source sheets without running it. By default all sheets of the source
workbook are checked; --sheet restricts the set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, cfg, err := workspaceFromCmd(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			wb, err := ws.Open(ctx, source)
			if err != nil {
				return err
			}
			specs, err := parseSheetSpecs(sheets)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				for _, name := range wb.SheetNames() {
					if _, err := ws.Bind(ctx, name, "", 0); err != nil {
						logging.FromContext(ctx).Warn("skipping sheet", "sheet", name, "error", err)
					}
				}
			} else if err := preload(ctx, ws, specs); err != nil {
				return err
			}

			diags, err := ws.ValidateMapping(ctx, args[0], mappingSheet)
			if err != nil {
				return err
			}
			render.Diagnostics(cmd.OutOrStdout(), styles(cfg), diags)
			if errs, _ := model.CountSeverity(diags); errs > 0 && !noFail {
				return fmt.Errorf("%w: %d error(s)", errMappingInvalid, errs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "workbook the mapping reads from")
	cmd.Flags().StringArrayVarP(&sheets, "sheet", "s", nil, "source sheet as Name[:header] (repeatable)")
	cmd.Flags().StringVar(&mappingSheet, "mapping-sheet", "", "sheet of the mapping workbook (default: Mapping, else the first sheet)")
	cmd.Flags().BoolVar(&noFail, "no-fail", false, "exit successfully even when errors are found")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func newScaffoldCommand() *cobra.Command {
	var (
		sheet string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "scaffold <workbook> --sheet <sheet> --out <mapping.xlsx>",
		Short: "Write a mapping template for a sheet",
		Long: `Write a mapping workbook with one row per column of the source sheet.
Each row maps the column to itself; edit source_expression to derive new
values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, _, err := workspaceFromCmd(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			if _, err := ws.Open(ctx, args[0]); err != nil {
				return err
			}
			rel, err := ws.Relation(ctx, sheet)
			if err != nil {
				return err
			}
			if err := sheetsql.WriteMappingTemplate(out, rel); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d mapping rows to %s\n", len(rel.Columns()), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sheet, "sheet", "s", "", "source sheet")
	cmd.Flags().StringVar(&out, "out", "mapping.xlsx", "mapping workbook to write")
	_ = cmd.MarkFlagRequired("sheet")

	return cmd
}

func newFunctionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the functions available in mapping expressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fns := sheetsql.Functions()
			rows := make([][]string, len(fns))
			for i, f := range fns {
				rows[i] = []string{f.Signature, f.Summary}
			}
			render.Table(cmd.OutOrStdout(), []string{"Function", "Description"}, rows)
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(GetConfig(cmd.Context()))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
