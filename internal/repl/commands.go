package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/nao1215/sheetsql/internal/render"
	"gopkg.in/yaml.v3"
)

type command struct {
	name    string
	aliases []string
	usage   string
	summary string
	minArgs int
	// sheetArg enables sheet name completion for the first argument.
	sheetArg bool
	run      func(ctx context.Context, s *Shell, args []string, rest string) error
}

var commandTable []*command

func init() {
	commandTable = []*command{
		{name: `\help`, aliases: []string{`\?`}, usage: `\help`, summary: "show this help", run: cmdHelp},
		{name: `\q`, aliases: []string{`\quit`, `\exit`}, usage: `\q`, summary: "quit", run: cmdQuit},
		{name: `\load`, usage: `\load <path>`, summary: "open a workbook", minArgs: 1, run: cmdLoad},
		{name: `\open`, usage: `\open <sheet> [alias]`, summary: "bind a sheet", minArgs: 1, sheetArg: true, run: cmdOpen},
		{name: `\dt`, usage: `\dt`, summary: "list sheets", run: listSheets(false)},
		{name: `\dt+`, usage: `\dt+`, summary: "list sheets with loaded rows and size", run: listSheets(true)},
		{name: `\loaded`, usage: `\loaded`, summary: "list bound sheets", run: cmdLoaded},
		{name: `\d`, usage: `\d <sheet|alias>`, summary: "describe a sheet", minArgs: 1, sheetArg: true, run: cmdDescribe},
		{name: `\columns`, usage: `\columns <sheet>`, summary: "list the columns of a sheet", minArgs: 1, sheetArg: true, run: cmdColumns},
		{name: `\reload`, usage: `\reload [sheet]`, summary: "re-read a sheet or the whole workbook", sheetArg: true, run: cmdReload},
		{name: `\search`, usage: `\search <term>`, summary: "search sheet and column names", minArgs: 1, run: cmdSearch},
		{name: `\hdr`, usage: `\hdr <sheet> <n|auto>`, summary: "set the header row of a sheet", minArgs: 2, sheetArg: true, run: cmdHdr},
		{name: `\hdrshow`, usage: `\hdrshow <sheet>`, summary: "show how the header row was chosen", minArgs: 1, sheetArg: true, run: cmdHdrShow},
		{name: `\header`, usage: `\header <n|auto>`, summary: "set the default header row", minArgs: 1, run: cmdHeader},
		{name: `\limit`, usage: `\limit <n>`, summary: "set the display limit (0 for none)", minArgs: 1, run: cmdLimit},
		{name: `\format`, usage: `\format <fmt>`, summary: "set the output format", minArgs: 1, run: cmdFormat},
		{name: `\x`, usage: `\x`, summary: "toggle vertical display", run: cmdVertical},
		{name: `\colwidth`, usage: `\colwidth <n>`, summary: "set the maximum cell width (0 for none)", minArgs: 1, run: cmdColWidth},
		{name: `\template`, usage: `\template <path|off>`, summary: "apply a mapping workbook to every result", minArgs: 1, run: cmdTemplate},
		{name: `\params`, usage: `\params`, summary: "list parameters", run: cmdParams},
		{name: `\set`, usage: `\set name=value`, summary: "set a parameter", minArgs: 1, run: cmdSet},
		{name: `\unset`, usage: `\unset name`, summary: "remove a parameter", minArgs: 1, run: cmdUnset},
		{name: `\strict`, usage: `\strict`, summary: "toggle strict placeholder mode", run: toggle("strict mode", func(st *sheetsql.SessionSettings) *bool { return &st.Strict })},
		{name: `\timing`, usage: `\timing`, summary: "toggle query timing", run: toggle("timing", func(st *sheetsql.SessionSettings) *bool { return &st.Timing })},
		{name: `\color`, usage: `\color`, summary: "toggle color output", run: cmdColor},
		{name: `\showsql`, usage: `\showsql`, summary: "toggle printing rewritten SQL", run: toggle("show sql", func(st *sheetsql.SessionSettings) *bool { return &st.ShowSQL })},
		{name: `\history`, usage: `\history`, summary: "show query history", run: cmdHistory},
		{name: `\save`, usage: `\save <name> [sql]`, summary: "save the last (or given) query", minArgs: 1, run: cmdSave},
		{name: `\run`, usage: `\run <name>`, summary: "run a saved query", minArgs: 1, run: cmdRun},
		{name: `\lsq`, usage: `\lsq`, summary: "list saved queries", run: cmdListSaved},
		{name: `\explain`, usage: `\explain <sql>`, summary: "show the query plan", minArgs: 1, run: cmdExplain},
		{name: `\watch`, usage: `\watch <seconds> [sql]`, summary: "re-run a query until Ctrl-C", minArgs: 1, run: cmdWatch},
		{name: `\export`, usage: `\export <path> | \export session <path>`, summary: "export the last result or the session", minArgs: 1, run: cmdExport},
		{name: `\stats`, usage: `\stats`, summary: "show cache entries", run: cmdStats},
		{name: `\cache`, usage: `\cache [clear]`, summary: "show cache totals or clear the cache", run: cmdCache},
		{name: `\show`, usage: `\show`, summary: "show the session", run: cmdShow},
		{name: `\showconfig`, usage: `\showconfig`, summary: "show the configuration", run: cmdShowConfig},
		{name: `\clear`, usage: `\clear`, summary: "reset the session", run: cmdClear},
		{name: `\restart`, usage: `\restart`, summary: "reset the session and clear the cache", run: cmdRestart},
		{name: `\validate`, usage: `\validate <mapping> [sheet]`, summary: "validate a mapping against bound sheets", minArgs: 1, run: cmdValidate},
	}
}

func (s *Shell) infof(format string, args ...any) {
	render.Infof(s.out, s.styles, format, args...)
}

func (s *Shell) renderOptions() render.Options {
	st := s.ws.Session().Settings()
	format, err := render.ParseFormat(st.Format)
	if err != nil {
		format = render.FormatTable
	}
	if st.Vertical {
		format = render.FormatVertical
	}
	return render.Options{Format: format, Limit: st.Limit, MaxColWidth: st.MaxColWidth}
}

func (s *Shell) query(ctx context.Context, text string) error {
	res, err := s.ws.Query(ctx, text)
	if err != nil {
		return err
	}
	return s.showResult(res)
}

func (s *Shell) showResult(res *sheetsql.Result) error {
	st := s.ws.Session().Settings()
	if st.ShowSQL {
		s.infof("%s", res.SQL)
	}
	if err := render.Result(s.out, res.Set.Columns, res.Set.Rows, s.renderOptions()); err != nil {
		return err
	}
	if res.Report != nil && res.Report.ErrorCount() > 0 {
		_, _ = fmt.Fprintln(s.errOut, s.styles.Warning.Render(fmt.Sprintf("%d cell error(s) while applying the template", res.Report.ErrorCount())))
	}
	if st.Timing {
		s.infof("Time: %s", res.Elapsed)
	}
	return nil
}

func cmdHelp(_ context.Context, s *Shell, _ []string, _ string) error {
	rows := make([][]string, 0, len(commandTable))
	for _, c := range commandTable {
		rows = append(rows, []string{c.usage, c.summary})
	}
	render.Table(s.out, []string{"Command", "Description"}, rows)
	_, _ = fmt.Fprintln(s.out, "SQL statements end with ';'. Use {Sheet} to reference a sheet and :name for parameters.")
	return nil
}

func cmdQuit(_ context.Context, s *Shell, _ []string, _ string) error {
	s.done = true
	return nil
}

func cmdLoad(ctx context.Context, s *Shell, args []string, _ string) error {
	wb, err := s.ws.Open(ctx, args[0])
	if err != nil {
		return err
	}
	s.infof("opened %s (%d sheets)", wb.Path(), len(wb.Sheets()))
	return nil
}

func cmdOpen(ctx context.Context, s *Shell, args []string, _ string) error {
	alias := ""
	if len(args) > 1 {
		alias = args[1]
	}
	b, err := s.ws.Bind(ctx, args[0], alias, 0)
	if err != nil {
		return err
	}
	s.infof("bound %s as %s", b.Sheet, b.Alias)
	return nil
}

func listSheets(plus bool) func(context.Context, *Shell, []string, string) error {
	return func(ctx context.Context, s *Shell, _ []string, _ string) error {
		return s.sheets(ctx, plus)
	}
}

func (s *Shell) sheets(ctx context.Context, plus bool) error {
	sheets, err := s.ws.Sheets(ctx)
	if err != nil {
		return err
	}

	header := []string{"Sheet", "Rows", "Cols", "Alias"}
	if plus {
		header = append(header, "Header", "Loaded rows", "Size")
	}
	rows := make([][]string, 0, len(sheets))
	for _, sh := range sheets {
		row := []string{sh.Name, strconv.Itoa(sh.Rows), strconv.Itoa(sh.Cols), ""}
		b, bound := s.ws.Session().Binding(sh.Name)
		if bound {
			row[3] = b.Alias
		}
		if plus {
			row = append(row, "", "", "")
			if bound {
				if rel, ok := s.ws.Cache().Get(b.Key); ok {
					row[4] = strconv.Itoa(rel.HeaderRow())
					row[5] = strconv.Itoa(rel.Len())
					row[6] = humanize.Bytes(uint64(rel.SizeEstimate()))
				}
			}
		}
		rows = append(rows, row)
	}
	render.Table(s.out, header, rows)
	return nil
}

func cmdLoaded(_ context.Context, s *Shell, _ []string, _ string) error {
	bindings := s.ws.Session().Bindings()
	if len(bindings) == 0 {
		s.infof("no sheets bound")
		return nil
	}
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		row := []string{b.Sheet, b.Alias, strconv.Itoa(b.Key.HeaderRow), "", ""}
		if rel, ok := s.ws.Cache().Get(b.Key); ok {
			row[2] = strconv.Itoa(rel.HeaderRow())
			row[3] = strconv.Itoa(rel.Len())
			row[4] = strconv.Itoa(len(rel.Columns()))
		}
		rows = append(rows, row)
	}
	render.Table(s.out, []string{"Sheet", "Alias", "Header", "Rows", "Columns"}, rows)
	return nil
}

func cmdDescribe(ctx context.Context, s *Shell, args []string, _ string) error {
	rel, err := s.ws.Relation(ctx, args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(s.out, "%s (header row %d, %d rows)\n", s.styles.Title.Render(rel.Name()), rel.HeaderRow(), rel.Len())
	rows := make([][]string, 0, len(rel.Columns()))
	for _, c := range rel.Columns() {
		rows = append(rows, []string{c.Name, c.Kind.String()})
	}
	render.Table(s.out, []string{"Column", "Type"}, rows)
	return nil
}

func cmdColumns(ctx context.Context, s *Shell, args []string, _ string) error {
	rel, err := s.ws.Relation(ctx, args[0])
	if err != nil {
		return err
	}
	for _, name := range rel.ColumnNames() {
		_, _ = fmt.Fprintln(s.out, name)
	}
	return nil
}

func cmdReload(ctx context.Context, s *Shell, args []string, _ string) error {
	sheet := ""
	if len(args) > 0 {
		sheet = args[0]
	}
	dropped, err := s.ws.Reload(ctx, sheet)
	if err != nil {
		return err
	}
	if sheet == "" {
		s.infof("reloaded %s", s.ws.Path())
	} else {
		s.infof("reloaded %s", sheet)
	}
	if len(dropped) > 0 {
		_, _ = fmt.Fprintln(s.errOut, s.styles.Warning.Render("dropped bindings: "+strings.Join(dropped, ", ")))
	}
	return nil
}

func cmdSearch(ctx context.Context, s *Shell, _ []string, rest string) error {
	hits, err := s.ws.Search(ctx, rest)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		s.infof("no matches for %q", rest)
		return nil
	}
	rows := make([][]string, len(hits))
	for i, h := range hits {
		rows[i] = []string{h.Sheet, h.Column}
	}
	render.Table(s.out, []string{"Sheet", "Column"}, rows)
	return nil
}

func cmdHdr(ctx context.Context, s *Shell, args []string, _ string) error {
	row, err := model.ParseHeaderRow(args[1])
	if err != nil {
		return err
	}
	if err := s.ws.SetHeaderOverride(ctx, args[0], row); err != nil {
		return err
	}
	if row == 0 {
		s.infof("header row of %s is inferred", args[0])
	} else {
		s.infof("header row of %s set to %d", args[0], row)
	}
	return nil
}

func cmdHdrShow(ctx context.Context, s *Shell, args []string, _ string) error {
	insp, err := s.ws.HeaderRow(ctx, args[0])
	if err != nil {
		return err
	}
	how := "override"
	if insp.Inferred {
		how = "inferred"
	}
	_, _ = fmt.Fprintf(s.out, "%s: header row %d (%s)\n", insp.Sheet, insp.Row, how)

	rows := make([][]string, len(insp.Sample))
	for i, rec := range insp.Sample {
		marker := ""
		if i+1 == insp.Row {
			marker = "*"
		}
		score := ""
		if i < len(insp.Scores) {
			score = strconv.Itoa(insp.Scores[i])
		}
		cells := make([]string, len(rec))
		for j, c := range rec {
			cells[j] = render.Truncate(c, 12)
		}
		rows[i] = []string{marker + strconv.Itoa(i+1), score, strings.Join(cells, " | ")}
	}
	render.Table(s.out, []string{"Row", "Score", "Cells"}, rows)
	return nil
}

func cmdHeader(_ context.Context, s *Shell, args []string, _ string) error {
	row, err := model.ParseHeaderRow(args[0])
	if err != nil {
		return err
	}
	s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) { st.DefaultHeader = row })
	if row == 0 {
		s.infof("default header row is inferred")
	} else {
		s.infof("default header row set to %d", row)
	}
	return nil
}

func nonNegative(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected a non-negative integer, got %q", arg)
	}
	return n, nil
}

func cmdLimit(_ context.Context, s *Shell, args []string, _ string) error {
	n, err := nonNegative(args[0])
	if err != nil {
		return err
	}
	s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) { st.Limit = n })
	s.infof("display limit set to %d", n)
	return nil
}

func cmdFormat(_ context.Context, s *Shell, args []string, _ string) error {
	f, err := render.ParseFormat(args[0])
	if err != nil {
		return err
	}
	s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) { st.Format = string(f) })
	s.infof("output format set to %s", f)
	return nil
}

func cmdVertical(_ context.Context, s *Shell, _ []string, _ string) error {
	var on bool
	s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) {
		st.Vertical = !st.Vertical
		on = st.Vertical
	})
	s.infof("expanded display is %s", onOff(on))
	return nil
}

func cmdColWidth(_ context.Context, s *Shell, args []string, _ string) error {
	n, err := nonNegative(args[0])
	if err != nil {
		return err
	}
	s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) { st.MaxColWidth = n })
	s.infof("maximum column width set to %d", n)
	return nil
}

func cmdTemplate(ctx context.Context, s *Shell, args []string, _ string) error {
	if strings.EqualFold(args[0], "off") {
		if err := s.ws.SetTemplate(ctx, ""); err != nil {
			return err
		}
		s.infof("template off")
		return nil
	}
	if err := s.ws.SetTemplate(ctx, args[0]); err != nil {
		return err
	}
	s.infof("template set to %s", s.ws.Session().Settings().Template)
	return nil
}

func cmdParams(_ context.Context, s *Shell, _ []string, _ string) error {
	params := s.ws.Session().Params()
	if len(params) == 0 {
		s.infof("no parameters set")
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, params[name].String(), params[name].Kind().String()}
	}
	render.Table(s.out, []string{"Name", "Value", "Type"}, rows)
	return nil
}

func cmdSet(_ context.Context, s *Shell, args []string, rest string) error {
	name, value, ok := strings.Cut(rest, "=")
	if !ok {
		if len(args) < 2 {
			return errors.New(`usage: \set name=value`)
		}
		name, value = args[0], strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	}
	name = strings.TrimSpace(name)
	v := model.ParseParam(strings.TrimSpace(value))
	if err := s.ws.Session().SetParam(name, v); err != nil {
		return err
	}
	s.infof("%s = %s", name, v.String())
	return nil
}

func cmdUnset(_ context.Context, s *Shell, args []string, _ string) error {
	if !s.ws.Session().UnsetParam(args[0]) {
		return fmt.Errorf("parameter %s is not set", args[0])
	}
	s.infof("%s removed", args[0])
	return nil
}

func toggle(label string, field func(*sheetsql.SessionSettings) *bool) func(context.Context, *Shell, []string, string) error {
	return func(_ context.Context, s *Shell, _ []string, _ string) error {
		var on bool
		s.ws.Session().UpdateSettings(func(st *sheetsql.SessionSettings) {
			p := field(st)
			*p = !*p
			on = *p
		})
		s.infof("%s is %s", label, onOff(on))
		return nil
	}
}

func cmdColor(ctx context.Context, s *Shell, args []string, rest string) error {
	if err := toggle("color", func(st *sheetsql.SessionSettings) *bool { return &st.Color })(ctx, s, args, rest); err != nil {
		return err
	}
	s.styles = render.NewStyles(s.ws.Session().Settings().Color)
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func cmdHistory(_ context.Context, s *Shell, _ []string, _ string) error {
	for i, q := range s.ws.Session().History() {
		_, _ = fmt.Fprintf(s.out, "%4d  %s\n", i+1, q)
	}
	return nil
}

func (s *Shell) lastQuery() (string, error) {
	history := s.ws.Session().History()
	if len(history) == 0 {
		return "", errors.New("no query has been run yet")
	}
	return history[len(history)-1], nil
}

func cmdSave(_ context.Context, s *Shell, args []string, rest string) error {
	text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	if text == "" {
		last, err := s.lastQuery()
		if err != nil {
			return err
		}
		text = last
	}
	if err := s.ws.Session().SaveQuery(args[0], strings.TrimSuffix(text, ";")); err != nil {
		return err
	}
	s.infof("saved %s", args[0])
	return nil
}

func cmdRun(ctx context.Context, s *Shell, args []string, _ string) error {
	text, ok := s.ws.Session().SavedQuery(args[0])
	if !ok {
		return fmt.Errorf("no saved query named %s", args[0])
	}
	return s.query(ctx, text)
}

func cmdListSaved(_ context.Context, s *Shell, _ []string, _ string) error {
	saved := s.ws.Session().SavedQueries()
	if len(saved) == 0 {
		s.infof("no saved queries")
		return nil
	}
	rows := make([][]string, len(saved))
	for i, q := range saved {
		rows[i] = []string{q.Name, q.Text}
	}
	render.Table(s.out, []string{"Name", "Query"}, rows)
	return nil
}

func cmdExplain(ctx context.Context, s *Shell, _ []string, rest string) error {
	res, err := s.ws.Explain(ctx, strings.TrimSuffix(rest, ";"))
	if err != nil {
		return err
	}
	return render.Result(s.out, res.Set.Columns, res.Set.Rows, render.Options{Format: render.FormatTable})
}

func cmdWatch(ctx context.Context, s *Shell, args []string, rest string) error {
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs <= 0 {
		return fmt.Errorf("expected a positive number of seconds, got %q", args[0])
	}
	interval := time.Duration(secs * float64(time.Second))

	text := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(rest, args[0])), ";")
	if text == "" {
		if text, err = s.lastQuery(); err != nil {
			return err
		}
	}

	wctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err = s.ws.Watch(wctx, text, interval, func(res *sheetsql.Result, err error) error {
		_, _ = fmt.Fprintln(s.out, s.styles.Title.Render(fmt.Sprintf("Every %s: %s", interval, time.Now().Format(time.DateTime))))
		if err != nil {
			render.Errorf(s.errOut, s.styles, "%v", err)
			return nil
		}
		return s.showResult(res)
	})
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		s.infof("watch stopped")
		return nil
	}
	return err
}

func cmdExport(ctx context.Context, s *Shell, args []string, _ string) error {
	if strings.EqualFold(args[0], "session") && len(args) > 1 {
		data, err := yaml.Marshal(s.ws.Session().Snapshot())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0o600); err != nil {
			return err
		}
		s.infof("session written to %s", args[1])
		return nil
	}
	if err := s.ws.ExportLast(ctx, args[0]); err != nil {
		return err
	}
	s.infof("exported to %s", args[0])
	return nil
}

func cmdStats(_ context.Context, s *Shell, _ []string, _ string) error {
	stats := s.ws.Stats()
	if len(stats) == 0 {
		s.infof("cache is empty")
		return nil
	}
	rows := make([][]string, len(stats))
	for i, st := range stats {
		rows[i] = []string{
			st.Sheet,
			strconv.Itoa(st.HeaderRow),
			strconv.Itoa(st.Rows),
			strconv.Itoa(st.Columns),
			humanize.Bytes(uint64(st.Bytes)),
			humanize.Time(st.LoadedAt),
		}
	}
	render.Table(s.out, []string{"Sheet", "Header", "Rows", "Columns", "Size", "Loaded"}, rows)
	return nil
}

func cmdCache(_ context.Context, s *Shell, args []string, _ string) error {
	if len(args) > 0 && strings.EqualFold(args[0], "clear") {
		n := s.ws.ClearCache()
		s.infof("cleared %d cache entries", n)
		return nil
	}
	var (
		rows  int
		bytes int64
	)
	stats := s.ws.Stats()
	for _, st := range stats {
		rows += st.Rows
		bytes += st.Bytes
	}
	_, _ = fmt.Fprintf(s.out, "%d entries, %d rows, %s\n", len(stats), rows, humanize.Bytes(uint64(bytes)))
	return nil
}

func (s *Shell) printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.out.Write(data)
	return err
}

func cmdShow(_ context.Context, s *Shell, _ []string, _ string) error {
	return s.printYAML(s.ws.Session().Snapshot())
}

func cmdShowConfig(_ context.Context, s *Shell, _ []string, _ string) error {
	return s.printYAML(s.cfg)
}

func cmdClear(_ context.Context, s *Shell, _ []string, _ string) error {
	s.ws.Session().Reset()
	s.infof("session reset")
	return nil
}

func cmdRestart(_ context.Context, s *Shell, _ []string, _ string) error {
	n := s.ws.Restart()
	s.infof("session reset, %d cache entries cleared", n)
	return nil
}

func cmdValidate(ctx context.Context, s *Shell, args []string, _ string) error {
	sheet := ""
	if len(args) > 1 {
		sheet = args[1]
	}
	diags, err := s.ws.ValidateMapping(ctx, args[0], sheet)
	if err != nil {
		return err
	}
	render.Diagnostics(s.out, s.styles, diags)
	return nil
}
