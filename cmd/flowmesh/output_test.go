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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
)

func TestConsolePrinterFormatsEvents(t *testing.T) {
	var buf bytes.Buffer
	printer := newConsolePrinterTo(&buf)

	printer(events.Event{Type: events.TypeLog, Data: events.LogPayload{
		Timestamp: "12:00:00", Speaker: "Writer", Message: "drafting",
	}})
	printer(events.Event{Type: events.TypeNodeStatus, Data: events.StatusPayload{
		NodeName: "Writer", Status: "running", DisplayStatus: "Rework 2/3",
	}})
	printer(events.Event{Type: events.TypeNodeThought, Data: events.ThoughtPayload{
		NodeName: "Writer", Thought: "first\nsecond   line",
	}})
	printer(events.Event{Type: events.TypeWorkflowComplete, Data: events.CompletePayload{
		Success: true, Message: "workflow completed",
	}})

	out := buf.String()
	assert.Contains(t, out, "12:00:00  Writer: drafting")
	assert.Contains(t, out, "Writer -> running (Rework 2/3)")
	assert.Contains(t, out, "(thinking) first second line")

	// Completion is reported by the command, not the event stream.
	assert.NotContains(t, out, "workflow completed")
}

func TestPreviewLineTruncates(t *testing.T) {
	long := strings.Repeat("x", thoughtPreview+50)
	got := previewLine(long)
	assert.Len(t, got, thoughtPreview+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
