// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui holds the terminal output helpers shared by the CLI commands.
package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Color printers used across command output. They respect NO_COLOR and
// non-TTY stdout via InitColors.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors disables color when requested, when NO_COLOR is set, or when
// stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section header followed by an underline.
func Header(text string) {
	_, _ = Bold.Println(text)
	fmt.Println(underline(len(text)))
}

// SubHeader prints a bold sub-section header.
func SubHeader(text string) {
	_, _ = Bold.Println(text)
}

// Label returns a bold label, intended to prefix a value on the same line.
func Label(text string) string {
	return Bold.Sprint(text)
}

// CountText formats a count for summary output.
func CountText(n int) string {
	return Bold.Sprint(strconv.Itoa(n))
}

// DimText renders secondary information.
func DimText(text string) string {
	return Dim.Sprint(text)
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}
