// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"rich", ModeRich},
		{"FULL", ModeRich},
		{"plain", ModePlain},
		{"minimal", ModePlain},
		{"machine", ModeMachine},
		{"quiet", ModeMachine},
		{"q", ModeMachine},
		{"", ModeRich},
		{"bogus", ModeRich},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseMode(tc.in), "input %q", tc.in)
	}
}

func TestSetAndGetMode(t *testing.T) {
	prev := GetMode()
	defer SetMode(prev)

	SetMode(ModeMachine)
	assert.Equal(t, ModeMachine, GetMode())

	SetMode(ModePlain)
	assert.Equal(t, ModePlain, GetMode())
}

func TestInitModeHonorsEnv(t *testing.T) {
	prev := GetMode()
	defer SetMode(prev)

	t.Setenv("FLOWMESH_OUTPUT", "machine")
	InitMode()
	assert.Equal(t, ModeMachine, GetMode())
}
