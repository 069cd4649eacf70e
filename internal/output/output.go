// Package output formats CLI output. Colour is used only when the
// destination is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

const (
	colorAccent = "154"
	colorGray   = "245"
	colorDim    = "238"
	colorRed    = "196"
	colorYellow = "220"
)

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	score   lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)),
		score:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
	}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out   io.Writer
	color bool
	st    styles
}

// New creates a Writer that colours output only on a terminal.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTerminal(out) && !NoColor())
}

// NewWithColor creates a Writer with colour forced on or off.
func NewWithColor(out io.Writer, color bool) *Writer {
	return &Writer{out: out, color: color, st: newStyles(color)}
}

// Color reports whether the writer emits styled output.
func (w *Writer) Color() bool { return w.color }

// IsTerminal reports whether out is a terminal.
func IsTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NoColor reports whether NO_COLOR is set.
func NoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) { w.Status("✅", w.st.success.Render(msg)) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

func (w *Writer) Warning(msg string) { w.Status("⚠️ ", w.st.warning.Render(msg)) }

func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

func (w *Writer) Error(msg string) { w.Status("❌", w.st.err.Render(msg)) }

func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Err prints err with its hint and code.
func (w *Writer) Err(err error) {
	if err == nil {
		return
	}
	lines := strings.Split(strings.TrimRight(kberrors.FormatForCLI(err), "\n"), "\n")
	w.Error(strings.TrimPrefix(lines[0], "Error: "))
	for _, l := range lines[1:] {
		_, _ = fmt.Fprintln(w.out, w.st.label.Render(l))
	}
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.st.header.Render(title))
}

// KeyValue prints an aligned "label: value" line.
func (w *Writer) KeyValue(label string, value any) {
	label += ":"
	pad := strings.Repeat(" ", max(16-len([]rune(label)), 0))
	_, _ = fmt.Fprintf(w.out, "  %s%s %v\n", w.st.label.Render(label), pad, value)
}

// Result prints one ranked search hit.
func (w *Writer) Result(rank int, score float64, title, location, excerpt string) {
	heading := location
	if title != "" {
		heading = title + "  " + w.st.dim.Render(location)
	}
	_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", rank, w.st.score.Render(fmt.Sprintf("%.3f", score)), heading)
	if excerpt != "" {
		_, _ = fmt.Fprintf(w.out, "    %s\n", excerpt)
	}
}

// Code prints a code block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message. On a terminal the line is
// redrawn in place.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := w.st.success.Render(renderProgressBar(current, total, 30))

	if w.color {
		_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)
		if current >= total {
			_, _ = fmt.Fprintln(w.out)
		}
		return
	}
	_, _ = fmt.Fprintf(w.out, "[%s] %.0f%% %s\n", bar, pct, msg)
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(int(float64(current)/float64(total)*float64(width)), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
