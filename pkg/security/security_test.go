// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathParam(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"simple relative", "src/main.go", nil},
		{"empty", "   ", ErrEmptyPath},
		{"null byte", "a\x00b", ErrNullByte},
		{"traversal", "../etc/passwd", ErrPathTraversal},
		{"nested traversal", "a/../../b", ErrPathTraversal},
		{"absolute", "/etc/passwd", ErrAbsolutePath},
		{"dotfile ok", ".env", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathParam(tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSanitizeLogMessage(t *testing.T) {
	msg := `calling api_key="sk-abcdef1234567890" with Bearer eyJhbGciOi.payload`
	out := SanitizeLogMessage(msg, 0)

	assert.NotContains(t, out, "sk-abcdef1234567890")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.Contains(t, out, "[REDACTED]")
}

func TestSanitizeLogMessageTruncates(t *testing.T) {
	out := SanitizeLogMessage(strings.Repeat("x", 600), 100)
	assert.Len(t, out, 100+len("...[truncated]"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("client"))
	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))

	// Other keys are independent.
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	base := time.Now()
	rl.now = func() time.Time { return base }

	require.True(t, rl.Allow("client"))
	require.False(t, rl.Allow("client"))

	rl.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.True(t, rl.Allow("client"))
}
