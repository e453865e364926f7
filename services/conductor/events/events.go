// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events defines the event envelope emitted by the engine and
// the in-process bus that fans envelopes out to observers.
//
// Observers (a transport, a log sink, a test recorder) subscribe to
// the Bus and receive every envelope published after subscription.
// Payloads must be treated as read-only by observers.
package events

import (
	"encoding/json"
	"time"
)

// Event types carried in the envelope Type field.
const (
	// TypeLog is a human-readable progress line.
	TypeLog = "log"

	// TypeNodeStatus reports a node status transition.
	TypeNodeStatus = "node_status"

	// TypeNodeThought carries model-internal reasoning stripped from
	// an agent's final output.
	TypeNodeThought = "node_thought"

	// TypeBlackboardUpdate carries the full blackboard map after a
	// write.
	TypeBlackboardUpdate = "blackboard_update"

	// TypeA2UI carries a UI schema produced by an a2ui node.
	TypeA2UI = "a2ui_event"

	// TypeWorkflowComplete signals the end of a run.
	TypeWorkflowComplete = "workflow_complete"

	// TypeTrace reports a node step boundary with input and output
	// previews.
	TypeTrace = "trace_event"
)

// Event is the envelope delivered to observers.
type Event struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Data is the type-specific payload (one of the payload structs
	// below, or a map for blackboard updates).
	Data any `json:"data"`
}

// LogPayload is the payload for TypeLog events.
type LogPayload struct {
	// Speaker names the component or node that produced the line.
	Speaker string `json:"speaker"`

	// Message is the log line.
	Message string `json:"message"`

	// Timestamp is wall-clock time in HH:MM:SS form.
	Timestamp string `json:"timestamp"`
}

// StatusPayload is the payload for TypeNodeStatus events.
type StatusPayload struct {
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
	Status   string `json:"status"`

	// DisplayStatus is an optional short progress caption.
	DisplayStatus string `json:"display_status,omitempty"`

	// Output is set when the transition carries a final output.
	Output string `json:"output,omitempty"`
}

// ThoughtPayload is the payload for TypeNodeThought events.
type ThoughtPayload struct {
	NodeName  string `json:"node_name"`
	Thought   string `json:"thought"`
	Timestamp string `json:"timestamp"`
}

// A2UIPayload is the payload for TypeA2UI events.
type A2UIPayload struct {
	NodeID   string          `json:"node_id"`
	NodeName string          `json:"node_name"`
	Schema   json.RawMessage `json:"schema"`
}

// CompletePayload is the payload for TypeWorkflowComplete events.
type CompletePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TracePayload is the payload for TypeTrace events.
type TracePayload struct {
	TraceID  string `json:"trace_id"`
	ParentID string `json:"parent_id,omitempty"`
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`

	// Status is one of "started", "completed", "failed".
	Status string `json:"status"`

	// Inputs and Outputs are previews, not full payloads.
	Inputs  string `json:"inputs,omitempty"`
	Outputs string `json:"outputs,omitempty"`
	Error   string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// clockStamp formats a timestamp the way log and thought payloads
// carry it.
func clockStamp(t time.Time) string {
	return t.Format("15:04:05")
}

// NewLog builds a TypeLog envelope stamped with the current time.
func NewLog(speaker, message string) Event {
	return Event{Type: TypeLog, Data: LogPayload{
		Speaker:   speaker,
		Message:   message,
		Timestamp: clockStamp(time.Now()),
	}}
}

// NewStatus builds a TypeNodeStatus envelope.
func NewStatus(nodeID, nodeName, status, displayStatus, output string) Event {
	return Event{Type: TypeNodeStatus, Data: StatusPayload{
		NodeID:        nodeID,
		NodeName:      nodeName,
		Status:        status,
		DisplayStatus: displayStatus,
		Output:        output,
	}}
}

// NewThought builds a TypeNodeThought envelope stamped with the
// current time.
func NewThought(nodeName, thought string) Event {
	return Event{Type: TypeNodeThought, Data: ThoughtPayload{
		NodeName:  nodeName,
		Thought:   thought,
		Timestamp: clockStamp(time.Now()),
	}}
}

// NewBlackboardUpdate builds a TypeBlackboardUpdate envelope carrying
// a snapshot of the full map. The caller must pass a copy.
func NewBlackboardUpdate(state map[string]any) Event {
	return Event{Type: TypeBlackboardUpdate, Data: state}
}

// NewComplete builds a TypeWorkflowComplete envelope.
func NewComplete(success bool, message string) Event {
	return Event{Type: TypeWorkflowComplete, Data: CompletePayload{
		Success: success,
		Message: message,
	}}
}
