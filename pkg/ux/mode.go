// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the CLI output layer: terminal detection, a
// shared style palette, and small print helpers used by the flow
// command's renderers.
package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Mode selects how CLI output is rendered.
type Mode string

const (
	// ModeStyled enables colors and icons for interactive terminals.
	ModeStyled Mode = "styled"

	// ModePlain emits unstyled text for pipes and scripts.
	ModePlain Mode = "plain"
)

var (
	currentMode = ModeStyled
	modeMu      sync.RWMutex
)

// GetMode returns the active output mode.
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode overrides the active output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode converts a string to a Mode. Unknown values fall back to
// plain, the safe choice for scripts.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "styled", "color", "tty":
		return ModeStyled
	case "plain", "none":
		return ModePlain
	default:
		return ModePlain
	}
}

// InitMode picks the output mode from the environment: FLOW_OUTPUT_MODE
// wins, NO_COLOR forces plain, otherwise styled when stdout is a
// terminal.
func InitMode() {
	if env := os.Getenv("FLOW_OUTPUT_MODE"); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		SetMode(ModePlain)
		return
	}
	if isTerminal() {
		SetMode(ModeStyled)
		return
	}
	SetMode(ModePlain)
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Styled reports whether styled rendering is active.
func Styled() bool {
	return GetMode() == ModeStyled
}
