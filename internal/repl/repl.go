// Package repl implements the interactive sheetsql shell.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/internal/config"
	"github.com/nao1215/sheetsql/internal/render"
)

const (
	prompt     = "sheetsql> "
	contPrompt = "    ...> "
)

// Shell reads SQL and backslash commands and runs them against a Workspace.
// SQL is buffered across lines until a line ends with ";".
type Shell struct {
	ws     *sheetsql.Workspace
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
	styles *render.Styles

	commands map[string]*command
	buf      strings.Builder
	done     bool
}

// New creates a shell writing results to out and errors to errOut.
func New(ws *sheetsql.Workspace, cfg *config.Config, out, errOut io.Writer) *Shell {
	s := &Shell{
		ws:     ws,
		cfg:    cfg,
		out:    out,
		errOut: errOut,
		styles: render.NewStyles(ws.Session().Settings().Color),
	}
	s.commands = make(map[string]*command)
	for _, c := range commandTable {
		s.commands[c.name] = c
		for _, a := range c.aliases {
			s.commands[a] = c
		}
	}
	return s
}

// Prompt returns the prompt for the next line.
func (s *Shell) Prompt() string {
	if s.buf.Len() > 0 {
		return contPrompt
	}
	return s.styles.Prompt.Render(prompt)
}

// Done reports whether the user asked to quit.
func (s *Shell) Done() bool {
	return s.done
}

// Feed handles one line of input.
func (s *Shell) Feed(ctx context.Context, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if s.buf.Len() == 0 && strings.HasPrefix(trimmed, `\`) {
		if err := s.Command(ctx, trimmed); err != nil {
			render.Errorf(s.errOut, s.styles, "%v", err)
		}
		return
	}

	if s.buf.Len() > 0 {
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString(line)
	if !strings.HasSuffix(trimmed, ";") {
		return
	}

	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if err := s.query(ctx, strings.TrimSuffix(text, ";")); err != nil {
		render.Errorf(s.errOut, s.styles, "%v", err)
	}
}

// Cancel discards a partially typed statement.
func (s *Shell) Cancel() {
	s.buf.Reset()
}

// Command runs one backslash command.
func (s *Shell) Command(ctx context.Context, line string) error {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	c, ok := s.commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown command %s (type \\help for commands)", name)
	}
	args, err := splitArgs(rest)
	if err != nil {
		return err
	}
	if len(args) < c.minArgs {
		return fmt.Errorf("usage: %s", c.usage)
	}
	return c.run(ctx, s, args, rest)
}

// Run reads lines with readline until \q or end of input.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.Prompt(),
		HistoryFile:     s.cfg.HistoryFile,
		AutoComplete:    s.completer(ctx),
		InterruptPrompt: "^C",
		EOFPrompt:       `\q`,
		Stdout:          s.out,
		Stderr:          s.errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintln(s.out, "sheetsql interactive shell")
	_, _ = fmt.Fprintln(s.out, `Type \help for commands, \q to exit`)
	if path := s.ws.Path(); path != "" {
		_, _ = fmt.Fprintf(s.out, "Workbook: %s\n", path)
	}
	_, _ = fmt.Fprintln(s.out)

	for !s.done {
		rl.SetPrompt(s.Prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.Cancel()
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Feed(ctx, line)
	}
	return nil
}

// completer offers commands, and sheet names after commands that take one.
func (s *Shell) completer(ctx context.Context) *readline.PrefixCompleter {
	sheets := func(string) []string {
		wb, err := s.ws.Workbook(ctx)
		if err != nil {
			return nil
		}
		return wb.SheetNames()
	}
	placeholders := func(string) []string {
		names := sheets("")
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = "{" + n + "}"
		}
		return out
	}

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("SELECT", readline.PcItem("*", readline.PcItem("FROM", readline.PcItemDynamic(placeholders)))),
	}
	for _, c := range commandTable {
		names := append([]string{c.name}, c.aliases...)
		for _, n := range names {
			if c.sheetArg {
				items = append(items, readline.PcItem(n, readline.PcItemDynamic(sheets)))
			} else {
				items = append(items, readline.PcItem(n))
			}
		}
	}
	return readline.NewPrefixCompleter(items...)
}

// splitArgs splits on spaces, keeping double-quoted runs together.
func splitArgs(s string) ([]string, error) {
	var (
		args   []string
		cur    strings.Builder
		quoted bool
		inArg  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			inArg = true
		case r == ' ' && !quoted:
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
