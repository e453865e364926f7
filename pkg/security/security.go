// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package security provides input validation and log hygiene helpers
// shared by the engine, the tool processor, and the node executors.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned by path validation.
var (
	// ErrEmptyPath indicates an empty or whitespace-only path parameter.
	ErrEmptyPath = errors.New("empty path parameter")

	// ErrNullByte indicates an embedded NUL byte in a path parameter.
	ErrNullByte = errors.New("path contains null byte")

	// ErrPathTraversal indicates a ".." component in a path parameter.
	ErrPathTraversal = errors.New("path contains traversal sequence")

	// ErrAbsolutePath indicates an absolute path where a relative one
	// is required.
	ErrAbsolutePath = errors.New("absolute path not allowed")
)

// apiKeyPattern matches common API key shapes in free text.
var apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["'\s:=]+[A-Za-z0-9_\-\.]{8,}`)

// bearerPattern matches Authorization bearer tokens.
var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]+`)

// ValidatePathParam rejects path parameters that could escape a
// sandbox before they ever reach the filesystem layer.
//
// Description:
//
//	Checks for empty input, embedded NUL bytes, ".." traversal
//	components, and absolute paths. This is a pre-filter; callers
//	that join the path against a base directory must still verify
//	the normalized result stays inside the base.
//
// Inputs:
//
//	path - The untrusted path parameter
//
// Outputs:
//
//	error - One of the sentinel errors above, or nil
func ValidatePathParam(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrNullByte
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrPathTraversal, path)
		}
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrAbsolutePath, path)
	}
	return nil
}

// SanitizeLogMessage redacts credential-shaped substrings and bounds
// the length of a message destined for logs.
//
// Inputs:
//
//	message - The raw message
//	maxLen - Maximum length; 0 means the default of 500
//
// Outputs:
//
//	string - Redacted, possibly truncated message
func SanitizeLogMessage(message string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 500
	}
	sanitized := apiKeyPattern.ReplaceAllString(message, "$1=[REDACTED]")
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer [REDACTED]")
	if len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen] + "...[truncated]"
	}
	return sanitized
}

// RateLimiter is a sliding-window request limiter keyed by caller id.
//
// # Thread Safety
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu sync.Mutex

	maxRequests int
	window      time.Duration

	// requests holds the timestamps of recent requests per key.
	requests map[string][]time.Time

	now func() time.Time
}

// NewRateLimiter creates a sliding-window limiter allowing maxRequests
// per window for each key.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a request for key and reports whether it is within
// the window budget.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	recent := rl.requests[key][:0]
	for _, ts := range rl.requests[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= rl.maxRequests {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}
