package diag

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"lbe/internal/ir"
)

// Level represents the severity of a diagnostic.
type Level string

const (
	Error   Level = "error"
	Warning Level = "warning"
	Note    Level = "note"
	Help    Level = "help"
)

// Suggestion is a remediation hint attached to a Diagnostic, e.g. "increase
// the allocation map's capacity" or "rerun with a longer --timeout".
type Suggestion struct {
	Message string
}

// Diagnostic is a structured, source-located report from any of the five
// runtimes or the build pipeline.
type Diagnostic struct {
	Level       Level
	Code        Code
	Message     string
	Pos         ir.Pos
	Suggestions []Suggestion
	Notes       []string
	HelpText    string
}

// Reporter renders Diagnostics against a known source file, in the
// teacher's caret-annotated style. Unlike the teacher's reporter, positions
// here carry only a line number: the IR's debug info (ir.Pos) has no column,
// since it is reconstructed from the compiler's line tables rather than a
// parsed source file.
type Reporter struct {
	filename string
	lines    []string
}

// NewReporter creates a Reporter for filename, with source used only to
// render context lines; pass "" if the source text is unavailable (e.g. the
// runtime is reporting against a binary it did not compile).
func NewReporter(filename, source string) *Reporter {
	var lines []string
	if source != "" {
		lines = strings.Split(source, "\n")
	}
	return &Reporter{filename: filename, lines: lines}
}

// Format renders d as a multi-line, colorized report.
func (r *Reporter) Format(d Diagnostic) string {
	var result strings.Builder

	levelColor := r.levelColor(d.Level)
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	if d.Code != "" {
		result.WriteString(fmt.Sprintf("%s[%s]: %s\n", levelColor(string(d.Level)), d.Code, d.Message))
	} else {
		result.WriteString(fmt.Sprintf("%s: %s\n", levelColor(string(d.Level)), d.Message))
	}

	width := r.lineNumberWidth(d.Pos.Line)
	indent := strings.Repeat(" ", width)

	filename := d.Pos.Filename
	if filename == "" {
		filename = r.filename
	}
	result.WriteString(fmt.Sprintf("%s %s %s:%d\n", indent, dim("-->"), filename, d.Pos.Line))
	result.WriteString(fmt.Sprintf("%s %s\n", indent, dim("│")))

	if d.Pos.Line > 0 && d.Pos.Line <= len(r.lines) {
		result.WriteString(fmt.Sprintf("%s %s %s\n",
			bold(fmt.Sprintf("%*d", width, d.Pos.Line)), dim("│"), r.lines[d.Pos.Line-1]))
		result.WriteString(fmt.Sprintf("%s %s %s\n", indent, dim("│"), r.marker(d.Level)))
	}

	if len(d.Suggestions) > 0 {
		result.WriteString(fmt.Sprintf("%s %s\n", indent, dim("│")))
		helpColor := color.New(color.FgCyan).SprintFunc()
		for i, s := range d.Suggestions {
			if i == 0 {
				result.WriteString(fmt.Sprintf("%s %s %s: %s\n", indent, helpColor("help"), helpColor("try"), s.Message))
			} else {
				result.WriteString(fmt.Sprintf("%s      %s\n", indent, s.Message))
			}
		}
	}

	for _, note := range d.Notes {
		noteColor := color.New(color.FgBlue).SprintFunc()
		result.WriteString(fmt.Sprintf("%s %s %s %s\n", indent, dim("│"), noteColor("note:"), note))
	}

	if d.HelpText != "" {
		helpColor := color.New(color.FgGreen).SprintFunc()
		result.WriteString(fmt.Sprintf("%s %s %s %s\n", indent, dim("│"), helpColor("help:"), d.HelpText))
	}

	result.WriteString("\n")
	return result.String()
}

func (r *Reporter) levelColor(level Level) func(...interface{}) string {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	case Help:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}

func (r *Reporter) marker(level Level) string {
	c := color.New(color.FgRed, color.Bold).SprintFunc()
	if level == Warning {
		c = color.New(color.FgYellow, color.Bold).SprintFunc()
	}
	return c("^")
}

func (r *Reporter) lineNumberWidth(line int) int {
	width := len(fmt.Sprintf("%d", line))
	if width < 3 {
		width = 3
	}
	return width
}
