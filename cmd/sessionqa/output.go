package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

// renderStatusLine formats "  Label:   [KIND] message" with the label padded
// so status blocks line up.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	line := fmt.Sprintf("  %-22s [%s]", label+":", style.label)
	if message != "" {
		line += " " + message
	}
	return paint(line, style.color, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	color := statusStyles[statusInfo].color
	return []string{
		paint(heading, color, colorize),
		paint(strings.Repeat("-", len(heading)), color, colorize),
	}
}

func paint(s, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + ansiReset
}

// shouldColorize reports whether w is a terminal and NO_COLOR is unset.
func shouldColorize(w io.Writer) bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isTerminal(w)
}

// isInteractive reports whether r is attached to a terminal.
func isInteractive(r io.Reader) bool {
	return isTerminal(r)
}

func isTerminal(stream any) bool {
	f, ok := stream.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
