// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow defines the graph document executed by the engine:
// a workflow, its nodes, its edges, and the agreement rules that gate
// node completion.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a node does. The set is closed; Validate
// rejects unknown kinds.
type Kind string

// Node kinds.
const (
	KindAgent           Kind = "agent"
	KindAuditor         Kind = "auditor"
	KindInput           Kind = "input"
	KindOutput          Kind = "output"
	KindRouter          Kind = "router"
	KindCharacter       Kind = "character"
	KindDirector        Kind = "director"
	KindOptimizer       Kind = "optimizer"
	KindScript          Kind = "script"
	KindMemory          Kind = "memory"
	KindRAG             Kind = "rag"
	KindHTTP            Kind = "http"
	KindOpenAPI         Kind = "openapi"
	KindGitHub          Kind = "github"
	KindHuggingFace     Kind = "huggingface"
	KindNotion          Kind = "notion"
	KindGoogle          Kind = "google"
	KindMCP             Kind = "mcp"
	KindComfy           Kind = "comfy"
	KindBrowser         Kind = "browser"
	KindShell           Kind = "shell"
	KindSystem          Kind = "system"
	KindA2UI            Kind = "a2ui"
	KindDiscovery       Kind = "discovery"
	KindArchitect       Kind = "architect"
	KindCritic          Kind = "critic"
	KindTelegramTrigger Kind = "telegram_trigger"
	KindDiscordTrigger  Kind = "discord_trigger"
)

// allKinds is the closed tag set accepted by Validate.
var allKinds = map[Kind]bool{
	KindAgent: true, KindAuditor: true, KindInput: true, KindOutput: true,
	KindRouter: true, KindCharacter: true, KindDirector: true,
	KindOptimizer: true, KindScript: true, KindMemory: true, KindRAG: true,
	KindHTTP: true, KindOpenAPI: true, KindGitHub: true,
	KindHuggingFace: true, KindNotion: true, KindGoogle: true,
	KindMCP: true, KindComfy: true, KindBrowser: true, KindShell: true,
	KindSystem: true, KindA2UI: true, KindDiscovery: true,
	KindArchitect: true, KindCritic: true,
	KindTelegramTrigger: true, KindDiscordTrigger: true,
}

// IsAgentKind reports whether a kind runs the LLM agent protocol.
func (k Kind) IsAgentKind() bool {
	switch k {
	case KindAgent, KindAuditor, KindRouter, KindCharacter, KindDirector,
		KindOptimizer, KindArchitect, KindCritic:
		return true
	default:
		return false
	}
}

// Status is a node's position in its lifecycle.
type Status string

// Node statuses. A node moves idle -> queued -> running and from
// running to complete, failed, or waiting_for_approval. Skipped is
// reserved for conditional-routing misses.
const (
	StatusIdle            Status = "idle"
	StatusQueued          Status = "queued"
	StatusRunning         Status = "running"
	StatusComplete        Status = "complete"
	StatusFailed          Status = "failed"
	StatusSkipped         Status = "skipped"
	StatusWaitingApproval Status = "waiting_for_approval"
	StatusPaused          Status = "paused"
)

// AgreementRule gates node completion on a property of the output.
type AgreementRule struct {
	// Name identifies the rule in correction prompts and results.
	Name string `json:"name"`

	// Kind is one of contains, not_contains, min_words, max_words,
	// regex, json, schema. Unknown kinds pass by default.
	Kind string `json:"type"`

	// Value is the rule argument: a substring, a count, a pattern,
	// or a schema document.
	Value any `json:"value,omitempty"`

	// Required failures trigger the correction retry loop; advisory
	// failures are reported only.
	Required bool `json:"required"`
}

// Node is one vertex of the workflow graph.
//
// Fields split into three groups: identity and placement, authored
// behavior, and runtime state. Runtime state is reset at the start of
// every non-resume run.
type Node struct {
	// Identity and placement.
	ID   string  `json:"id" validate:"required"`
	Name string  `json:"name"`
	Kind Kind    `json:"type" validate:"required"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`

	// Authored behavior.
	Persona        string         `json:"persona,omitempty"`
	Backstory      string         `json:"backstory,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	ProviderConfig map[string]any `json:"provider_config,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`

	// Execution contract.
	RequiresApproval  bool              `json:"requires_approval,omitempty"`
	SaveEnabled       bool              `json:"save_enabled,omitempty"`
	SavePath          string            `json:"save_path,omitempty"`
	MaxIterations     int               `json:"max_iterations,omitempty"`
	IterationCount    int               `json:"iteration_count,omitempty"`
	AgreementRules    []AgreementRule   `json:"agreement_rules,omitempty"`
	SubWorkflows      []json.RawMessage `json:"sub_workflows,omitempty"`
	ReturnEventBubble bool              `json:"return_event_bubble,omitempty"`
	InternetAccess    bool              `json:"internet_access,omitempty"`
	Tier              string            `json:"tier,omitempty"`
	TierConfig        map[string]any    `json:"tier_config,omitempty"`
	TokenBudget       int               `json:"token_budget,omitempty"`
	ScriptCode        string            `json:"script_code,omitempty"`
	MemoryConfig      map[string]any    `json:"memory_config,omitempty"`

	// Runtime state.
	Status        Status  `json:"status,omitempty"`
	DisplayStatus string  `json:"display_status,omitempty"`
	Output        *string `json:"output,omitempty"`
	Error         *string `json:"error,omitempty"`

	// extra preserves unknown document fields across round-trips.
	extra map[string]json.RawMessage
}

// NewNode creates a node with a fresh short id and defaults.
func NewNode(name string, kind Kind) *Node {
	return &Node{
		ID:            uuid.NewString()[:8],
		Name:          name,
		Kind:          kind,
		MaxIterations: 1,
		Status:        StatusIdle,
	}
}

// SetOutput stores the node's output.
func (n *Node) SetOutput(output string) {
	n.Output = &output
}

// OutputString returns the output or "" when unset.
func (n *Node) OutputString() string {
	if n.Output == nil {
		return ""
	}
	return *n.Output
}

// SetError stores the node's error string.
func (n *Node) SetError(msg string) {
	n.Error = &msg
}

// ResetRuntime clears runtime state back to a fresh idle node.
func (n *Node) ResetRuntime() {
	n.Status = StatusIdle
	n.DisplayStatus = ""
	n.Output = nil
	n.Error = nil
	n.IterationCount = 0
}

// Clone returns a deep-enough copy for snapshot bookkeeping: scalar
// runtime fields are copied, authored maps are shared.
func (n *Node) Clone() *Node {
	out := *n
	if n.Output != nil {
		v := *n.Output
		out.Output = &v
	}
	if n.Error != nil {
		v := *n.Error
		out.Error = &v
	}
	return &out
}

// Edge is one arc of the workflow graph.
//
// Feedback edges are excluded from predecessor-readiness and from
// cycle validation; they exist only for routing, so loops can be
// authored without breaking DAG semantics.
type Edge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`

	// Label annotates the edge in UIs and logs.
	Label string `json:"label,omitempty"`

	// Condition gates the edge for router nodes: a plain substring,
	// or an expression when prefixed with "expr:".
	Condition string `json:"condition,omitempty"`

	Feedback bool `json:"feedback,omitempty"`

	extra map[string]json.RawMessage
}

// Workflow is the executable graph document.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Nodes is keyed by node id. Order is irrelevant.
	Nodes map[string]*Node `json:"nodes"`

	Edges []*Edge `json:"edges"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	extra map[string]json.RawMessage
}

// New creates an empty workflow with a fresh id.
func New(name string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		Nodes:     make(map[string]*Node),
		Edges:     nil,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddNode inserts a node, replacing any node with the same id.
func (w *Workflow) AddNode(n *Node) {
	if w.Nodes == nil {
		w.Nodes = make(map[string]*Node)
	}
	w.Nodes[n.ID] = n
}

// AddEdge appends an edge.
func (w *Workflow) AddEdge(e *Edge) {
	w.Edges = append(w.Edges, e)
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	return w.Nodes[id]
}

// NodeByName returns the first node with the given display name, or
// nil. Used to resolve dispatch-tag targets.
func (w *Workflow) NodeByName(name string) *Node {
	for _, n := range w.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// EntryNodes returns nodes with no incoming non-feedback edge, the
// seeds of a fresh run.
func (w *Workflow) EntryNodes() []*Node {
	hasIncoming := make(map[string]bool)
	for _, e := range w.Edges {
		if !e.Feedback {
			hasIncoming[e.Target] = true
		}
	}

	var entries []*Node
	for id, n := range w.Nodes {
		if !hasIncoming[id] {
			entries = append(entries, n)
		}
	}
	return entries
}

// Predecessors returns the source nodes of non-feedback edges into
// the given node. Only these count toward readiness.
func (w *Workflow) Predecessors(nodeID string) []*Node {
	var preds []*Node
	for _, e := range w.Edges {
		if e.Target == nodeID && !e.Feedback {
			if n := w.Nodes[e.Source]; n != nil {
				preds = append(preds, n)
			}
		}
	}
	return preds
}

// Outgoing returns every edge leaving the given node, feedback edges
// included.
func (w *Workflow) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// ResetRuntime resets every node's runtime state.
func (w *Workflow) ResetRuntime() {
	for _, n := range w.Nodes {
		n.ResetRuntime()
	}
}
