package render

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/nao1215/sheetsql/domain/model"
)

// Styles holds the terminal styles. A zero-color set renders text unchanged.
type Styles struct {
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Muted   lipgloss.Style
	Prompt  lipgloss.Style
	Title   lipgloss.Style
}

// NewStyles returns colored styles, or plain ones when color is false.
func NewStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{Error: plain, Warning: plain, Success: plain, Muted: plain, Prompt: plain, Title: plain}
	}
	return &Styles{
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Prompt:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		Title:   lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

func (s *Styles) severity(sev model.Severity) lipgloss.Style {
	if sev == model.SeverityWarning {
		return s.Warning
	}
	return s.Error
}

// Diagnostics prints one line per diagnostic followed by a summary.
func Diagnostics(w io.Writer, s *Styles, diags []model.Diagnostic) {
	for _, d := range diags {
		_, _ = fmt.Fprintln(w, s.severity(d.Severity).Render(d.String()))
	}
	errs, warns := model.CountSeverity(diags)
	switch {
	case errs > 0:
		_, _ = fmt.Fprintln(w, s.Error.Render(fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)))
	case warns > 0:
		_, _ = fmt.Fprintln(w, s.Warning.Render(fmt.Sprintf("0 errors, %d warning(s)", warns)))
	default:
		_, _ = fmt.Fprintln(w, s.Success.Render("mapping is valid"))
	}
}

// Errorf prints an error line.
func Errorf(w io.Writer, s *Styles, format string, args ...any) {
	_, _ = fmt.Fprintln(w, s.Error.Render("Error: "+fmt.Sprintf(format, args...)))
}

// Infof prints a muted informational line.
func Infof(w io.Writer, s *Styles, format string, args ...any) {
	_, _ = fmt.Fprintln(w, s.Muted.Render(fmt.Sprintf(format, args...)))
}
