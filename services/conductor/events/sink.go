// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"fmt"
	"io"
	"sync"

	"github.com/AleutianAI/flowmesh/pkg/logging"
)

// NewLogSink returns a handler that appends human-readable lines to w.
//
// This is the observer behind the per-session workflow_execution.log:
// log lines, status transitions, and the final completion line are
// recorded; high-frequency thought and blackboard traffic is not.
func NewLogSink(w io.Writer) Handler {
	var mu sync.Mutex
	return func(evt Event) {
		mu.Lock()
		defer mu.Unlock()

		switch data := evt.Data.(type) {
		case LogPayload:
			fmt.Fprintf(w, "[%s] %s: %s\n", data.Timestamp, data.Speaker, data.Message)
		case StatusPayload:
			fmt.Fprintf(w, "--- %s -> %s\n", data.NodeName, data.Status)
		case CompletePayload:
			fmt.Fprintf(w, "=== workflow complete: success=%t %s\n", data.Success, data.Message)
		}
	}
}

// NewSlogHandler returns a handler that mirrors bus traffic into the
// structured logger, one record per envelope.
func NewSlogHandler(logger *logging.Logger) Handler {
	return func(evt Event) {
		switch data := evt.Data.(type) {
		case LogPayload:
			logger.Info("workflow log", "speaker", data.Speaker, "message", data.Message)
		case StatusPayload:
			logger.Info("node status",
				"node_id", data.NodeID,
				"node_name", data.NodeName,
				"status", data.Status,
			)
		case ThoughtPayload:
			logger.Debug("node thought", "node_name", data.NodeName)
		case TracePayload:
			logger.Debug("trace event",
				"trace_id", data.TraceID,
				"node_id", data.NodeID,
				"status", data.Status,
			)
		case CompletePayload:
			logger.Info("workflow complete", "success", data.Success, "message", data.Message)
		}
	}
}
