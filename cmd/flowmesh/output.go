// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
)

// thoughtPreview caps model-internal reasoning lines on the console.
const thoughtPreview = 160

// newConsolePrinter returns the bus observer behind the live console
// view of a run.
func newConsolePrinter() events.Handler {
	return newConsolePrinterTo(os.Stdout)
}

func newConsolePrinterTo(w io.Writer) events.Handler {
	var mu sync.Mutex
	return func(evt events.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch data := evt.Data.(type) {
		case events.LogPayload:
			fmt.Fprintf(w, "%s  %s: %s\n", data.Timestamp, data.Speaker, data.Message)
		case events.StatusPayload:
			fmt.Fprintf(w, "      %s -> %s\n", data.NodeName, statusCaption(data))
		case events.ThoughtPayload:
			fmt.Fprintf(w, "      %s (thinking) %s\n", data.NodeName, previewLine(data.Thought))
		case events.A2UIPayload:
			fmt.Fprintf(w, "      %s emitted a UI schema (%d bytes)\n", data.NodeName, len(data.Schema))
		}
	}
}

func statusCaption(data events.StatusPayload) string {
	if data.DisplayStatus != "" {
		return data.Status + " (" + data.DisplayStatus + ")"
	}
	return data.Status
}

// previewLine flattens text onto one line and truncates it.
func previewLine(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > thoughtPreview {
		return text[:thoughtPreview] + "..."
	}
	return text
}
