// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"
)

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeRich enables colors, icons, and boxes
	ModeRich Mode = "rich"

	// ModePlain uses icons and basic formatting only
	ModePlain Mode = "plain"

	// ModeMachine outputs plain text suitable for scripting and parsing
	ModeMachine Mode = "machine"
)

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// GetMode returns the current output mode
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode updates the current output mode
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode converts a string to Mode
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "rich", "r", "full":
		return ModeRich
	case "plain", "p", "minimal":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// InitMode initializes the output mode from environment and context.
// FLOWMESH_OUTPUT wins; otherwise piped output falls back to machine
// mode.
func InitMode() {
	if env := os.Getenv("FLOWMESH_OUTPUT"); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if !isTerminal() {
		SetMode(ModeMachine)
		return
	}
	SetMode(ModeRich)
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsInteractive returns true if interactive prompts make sense
func IsInteractive() bool {
	return GetMode() != ModeMachine && isTerminal()
}
