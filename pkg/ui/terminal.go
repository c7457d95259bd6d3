// Package ui renders bulkgrab's terminal output.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Banner is printed at the start of interactive runs
const Banner = `
  ┏┓ ┳ ┳┓ ┓┏┓ ┏┓┳━┓┏┓┳━┓
  ┣┻┓┃ ┃┃ ┣┻┓ ┃┓┣┳┛┣┫┣┻┓
  ┗━┛┗━┛┗━┛┛┗ ┗┛┛┗━┛┗┗━┛
`

// Out is where the Print helpers write
var Out io.Writer = os.Stdout

// Color functions for terminal output. lipgloss drops the escape codes when
// the output does not support color.
var (
	Cyan    = colorize(lipgloss.NewStyle().Foreground(lipgloss.Color("6")))
	Yellow  = colorize(lipgloss.NewStyle().Foreground(lipgloss.Color("3")))
	Red     = colorize(lipgloss.NewStyle().Foreground(lipgloss.Color("1")))
	Green   = colorize(lipgloss.NewStyle().Foreground(lipgloss.Color("2")))
	Magenta = colorize(lipgloss.NewStyle().Foreground(lipgloss.Color("5")))
	Dim     = colorize(lipgloss.NewStyle().Faint(true))
	Bold    = colorize(lipgloss.NewStyle().Bold(true))
)

func colorize(style lipgloss.Style) func(string) string {
	return func(text string) string {
		return style.Render(text)
	}
}

// PrintBanner prints the banner in cyan
func PrintBanner() {
	fmt.Fprint(Out, Cyan(Banner))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Out, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Out, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(Out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Out, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Out, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(Out, Magenta(msg))
}
