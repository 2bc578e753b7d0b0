package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether gk output on stdout gets ANSI colors.
func ShouldUseColor() bool {
	return colorMode(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// colorMode resolves the color decision from the environment.
// GATEKEEP_COLOR=always|never overrides everything else; then NO_COLOR,
// CLICOLOR_FORCE, CLICOLOR and TERM=dumb apply before falling back to tty.
func colorMode(getenv func(string) string, tty bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv("GATEKEEP_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	if getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" || getenv("TERM") == "dumb" {
		return false
	}
	return tty
}
