package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/quantmind-br/droidctl/internal/core"
)

// Color scheme for droidctl
var (
	// Primary actions
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow)
	Info    = color.New(color.FgCyan)

	// Secondary actions
	Muted = color.New(color.Faint)
	Bold  = color.New(color.Bold)

	// Status indicators
	CheckMark = color.GreenString("✓")
	CrossMark = color.RedString("✗")
	Arrow     = color.CyanString("→")
)

var stateColors = map[core.InstallState]*color.Color{
	core.StateQueued:       Muted,
	core.StateInstalling:   Info,
	core.StateUninstalling: Info,
	core.StateInstalled:    Success,
	core.StateUninstalled:  Success,
	core.StateFailed:       Error,
}

// InitColors applies the configured color mode: auto, always or never
func InitColors(mode string) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
			color.NoColor = true
		}
	}
}

// ColorizeState returns the state name in its status color
func ColorizeState(s core.InstallState) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(s.String())
	}
	return s.String()
}

// StateMark returns the indicator printed next to a terminal state
func StateMark(s core.InstallState) string {
	switch s {
	case core.StateInstalled, core.StateUninstalled:
		return CheckMark
	case core.StateFailed:
		return CrossMark
	default:
		return Arrow
	}
}

// PrintState writes one "<mark> <package>: <state>" line
func PrintState(w io.Writer, st core.InstallItemState) {
	fmt.Fprintf(w, "%s %s: %s\n", StateMark(st.State), st.Item.PackageName, ColorizeState(st.State))
}

// PrintError prints an error message
func PrintError(format string, args ...any) {
	Error.Fprintf(os.Stderr, "%s Error: %s\n", CrossMark, fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...any) {
	Warning.Fprintf(os.Stderr, "Warning: %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...any) {
	Info.Fprintf(os.Stdout, "%s %s\n", Arrow, fmt.Sprintf(format, args...))
}

// PrintKeyValue prints a key-value pair with color
func PrintKeyValue(w io.Writer, key, value string) {
	Bold.Fprintf(w, "%s: ", key)
	fmt.Fprintln(w, value)
}

// PrintHeader prints a section header
func PrintHeader(w io.Writer, text string) {
	fmt.Fprintln(w)
	Bold.Fprintln(w, text)
	Muted.Fprintln(w, "────────────────────────────────────────")
}

// SprintSuccess returns a success string without printing
func SprintSuccess(format string, args ...any) string {
	return fmt.Sprintf("%s %s", CheckMark, fmt.Sprintf(format, args...))
}

// SprintError returns an error string without printing
func SprintError(format string, args ...any) string {
	return fmt.Sprintf("%s %s", CrossMark, fmt.Sprintf(format, args...))
}
