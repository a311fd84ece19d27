package main

import (
	"fmt"
	"os"
)

// Terminal output helpers. Everything decorative goes to stderr so that
// command output (answers, exported history, JSON) stays pipeable on stdout.

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// colorEnabled honors both the --no-color flag and the NO_COLOR convention.
func colorEnabled() bool {
	if noColor {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func paint(color, text string) string {
	if !colorEnabled() {
		return text
	}
	return color + text + ansiReset
}

func printTagged(color, tag, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(color, tag+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) {
	printTagged(ansiGreen, "✓", format, args...)
}

func printError(format string, args ...any) {
	printTagged(ansiRed, "✗", format, args...)
}

func printWarning(format string, args ...any) {
	printTagged(ansiYellow, "⚠", format, args...)
}

func printStep(format string, args ...any) {
	printTagged(ansiCyan, "→", format, args...)
}

// printStatus renders one "Label: value" line of a status report.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
