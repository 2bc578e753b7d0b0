package ui

import (
	"fmt"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderStatus returns the status name colored by how much it enforces:
// enforced green, probation amber, unbound gray.
func RenderStatus(s model.BindingStatus) string {
	switch s {
	case model.StatusEnforced:
		return paint(colorOK, s.String())
	case model.StatusProbation:
		return paint(colorWarn, s.String())
	case model.StatusUnbound:
		return paint(colorMuted, s.String())
	}
	return s.String()
}

// RenderDecision returns ALLOW or DENY in green or red.
func RenderDecision(allowed bool) string {
	if allowed {
		return paint(colorOK, "ALLOW")
	}
	return paint(colorError, "DENY")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
