// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nodes implements the per-kind executors the engine
// dispatches to. Every executor honors the same contract: it reads
// the node and its assembled context, performs its effect, and
// returns a Result; it never panics out and never touches scheduling
// state.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/flowmesh/services/conductor/blackboard"
	"github.com/AleutianAI/flowmesh/services/conductor/memory"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// GenerateRequest is one LLM call routed through the engine's
// failover path.
type GenerateRequest struct {
	Node          *workflow.Node
	System        string
	User          string
	Context       string
	Category      string
	ModelOverride string
	OnThought     func(string)
}

// GenerateFunc executes a generation request and reports which
// (provider, model) actually produced the completion; failover may
// have switched them silently.
type GenerateFunc func(ctx context.Context, req GenerateRequest) (output, provider, model string, err error)

// ExecContext carries everything an executor may need for one step.
// Fields an executor does not use are nil-safe.
type ExecContext struct {
	Node            *workflow.Node
	Input           string
	Context         string
	PersonaOverride string
	BaseDir         string

	Blackboard   *blackboard.Blackboard
	Memory       *memory.Store
	Conversation *memory.SummaryBuffer
	Generate     GenerateFunc

	// EmitLog and EmitThought bridge onto the engine's event bus.
	EmitLog     func(speaker, message string)
	EmitThought func(nodeName, thought string)

	Timestamp time.Time
}

func (ec *ExecContext) log(message string) {
	if ec.EmitLog != nil {
		ec.EmitLog(ec.Node.Name, message)
	}
}

func (ec *ExecContext) thought(content string) {
	if ec.EmitThought != nil {
		ec.EmitThought(ec.Node.Name, content)
	}
}

// Result is the uniform executor outcome.
type Result struct {
	OK     bool
	Output string
	Data   map[string]any
	Err    string

	// UIEvent, when set, is forwarded to observers as an a2ui event.
	UIEvent json.RawMessage
}

// failure builds a failed Result from a formatted error.
func failure(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

// success builds a completed Result.
func success(output string) Result {
	return Result{OK: true, Output: output}
}

// Executor runs one node step.
type Executor interface {
	Execute(ctx context.Context, ec *ExecContext) Result
}

// Factory builds an executor for a node kind.
type Factory func() Executor

// Registry maps node kinds to executor factories. Kinds can be
// registered at runtime, so integration plug-ins may extend the
// table without touching the core.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[workflow.Kind]Factory
}

// NewRegistry returns a registry preloaded with every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[workflow.Kind]Factory)}

	agent := func() Executor { return &AgentExecutor{} }
	for _, kind := range []workflow.Kind{
		workflow.KindAgent, workflow.KindAuditor, workflow.KindRouter,
		workflow.KindCharacter, workflow.KindDirector, workflow.KindOptimizer,
		workflow.KindArchitect, workflow.KindCritic,
	} {
		r.Register(kind, agent)
	}

	r.Register(workflow.KindInput, func() Executor { return &InputExecutor{} })
	r.Register(workflow.KindOutput, func() Executor { return &OutputExecutor{} })
	r.Register(workflow.KindSystem, func() Executor { return &SystemExecutor{} })
	r.Register(workflow.KindScript, func() Executor { return &ScriptExecutor{} })
	r.Register(workflow.KindMemory, func() Executor { return &MemoryExecutor{} })
	r.Register(workflow.KindHTTP, func() Executor { return &HTTPExecutor{} })
	r.Register(workflow.KindOpenAPI, func() Executor { return &OpenAPIExecutor{} })
	r.Register(workflow.KindShell, func() Executor { return &ShellExecutor{} })
	r.Register(workflow.KindA2UI, func() Executor { return &A2UIExecutor{} })

	for _, kind := range []workflow.Kind{
		workflow.KindRAG, workflow.KindGitHub, workflow.KindHuggingFace,
		workflow.KindNotion, workflow.KindGoogle, workflow.KindMCP,
		workflow.KindComfy, workflow.KindBrowser, workflow.KindDiscovery,
		workflow.KindTelegramTrigger, workflow.KindDiscordTrigger,
	} {
		k := kind
		r.Register(k, func() Executor { return &IntegrationStub{Kind: k} })
	}
	return r
}

// Register installs a factory for a kind, replacing any existing one.
func (r *Registry) Register(kind workflow.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New builds an executor for the kind.
func (r *Registry) New(kind workflow.Kind) (Executor, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %q", kind)
	}
	return f(), nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []workflow.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]workflow.Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// configString reads a string from the node's provider_config.
func configString(node *workflow.Node, key string) string {
	if node.ProviderConfig == nil {
		return ""
	}
	if v, ok := node.ProviderConfig[key].(string); ok {
		return v
	}
	return ""
}

// configBool reads a bool from the node's provider_config.
func configBool(node *workflow.Node, key string) bool {
	if node.ProviderConfig == nil {
		return false
	}
	v, _ := node.ProviderConfig[key].(bool)
	return v
}
