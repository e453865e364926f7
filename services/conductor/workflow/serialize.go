// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"encoding/json"
	"fmt"
)

// The document format tolerates fields this version does not know
// about: unknown keys are captured on unmarshal and written back on
// marshal, so a round-trip through an older engine never loses data
// authored by a newer editor.

// nodeKnownKeys are the Node fields owned by this version.
var nodeKnownKeys = map[string]bool{
	"id": true, "name": true, "type": true, "x": true, "y": true,
	"persona": true, "backstory": true, "provider": true, "model": true,
	"provider_config": true, "inputs": true, "requires_approval": true,
	"save_enabled": true, "save_path": true, "max_iterations": true,
	"iteration_count": true, "agreement_rules": true, "sub_workflows": true,
	"return_event_bubble": true, "internet_access": true, "tier": true,
	"tier_config": true, "token_budget": true, "script_code": true,
	"memory_config": true, "status": true, "display_status": true,
	"output": true, "error": true,
}

var edgeKnownKeys = map[string]bool{
	"source": true, "target": true, "from": true, "to": true,
	"label": true, "condition": true, "feedback": true,
}

var workflowKnownKeys = map[string]bool{
	"id": true, "name": true, "description": true, "nodes": true,
	"edges": true, "created_at": true, "updated_at": true,
}

// captureUnknown returns the raw fields of data not listed in known.
func captureUnknown(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if !known[k] {
			if extra == nil {
				extra = make(map[string]json.RawMessage)
			}
			extra[k] = v
		}
	}
	return extra, nil
}

// mergeExtra re-encodes the struct-derived JSON with preserved
// unknown fields folded back in. Known fields win on collision.
func mergeExtra(structJSON []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return structJSON, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(structJSON, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

type nodeAlias Node

// UnmarshalJSON decodes a node and captures unknown fields.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := captureUnknown(data, nodeKnownKeys)
	if err != nil {
		return err
	}
	*n = Node(alias)
	n.extra = extra
	if n.Status == "" {
		n.Status = StatusIdle
	}
	if n.MaxIterations <= 0 {
		n.MaxIterations = 1
	}
	return nil
}

// MarshalJSON encodes a node including preserved unknown fields.
func (n *Node) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(nodeAlias(*n))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, n.extra)
}

type edgeAlias Edge

// UnmarshalJSON decodes an edge, accepting "from"/"to" as synonyms
// for "source"/"target", and captures unknown fields.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var alias edgeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var synonyms struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &synonyms); err != nil {
		return err
	}
	if alias.Source == "" {
		alias.Source = synonyms.From
	}
	if alias.Target == "" {
		alias.Target = synonyms.To
	}

	extra, err := captureUnknown(data, edgeKnownKeys)
	if err != nil {
		return err
	}
	*e = Edge(alias)
	e.extra = extra
	return nil
}

// MarshalJSON encodes an edge including preserved unknown fields.
func (e *Edge) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(edgeAlias(*e))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, e.extra)
}

type workflowAlias Workflow

// UnmarshalJSON decodes a workflow document and captures unknown
// fields. Node map keys win over any conflicting inline node id.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var alias workflowAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := captureUnknown(data, workflowKnownKeys)
	if err != nil {
		return err
	}
	*w = Workflow(alias)
	w.extra = extra

	if w.Nodes == nil {
		w.Nodes = make(map[string]*Node)
	}
	for id, n := range w.Nodes {
		if n.ID == "" {
			n.ID = id
		}
	}
	return nil
}

// MarshalJSON encodes a workflow document including preserved
// unknown fields.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(workflowAlias(*w))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, w.extra)
}

// Unmarshal parses a workflow document.
func Unmarshal(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	return &w, nil
}

// Marshal serializes a workflow document.
func Marshal(w *Workflow) ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}
