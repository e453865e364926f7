// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine schedules and executes workflow graphs.
//
// The engine runs a frontier loop: nodes whose non-feedback
// predecessors have all completed are admitted through the traffic
// controller, executed by their kind's executor, and their outputs
// post-processed (tool tags, blackboard writes, dispatch directives)
// before routing decides what runs next. A run never raises; every
// failure is captured in node state and the run summary.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/flowmesh/pkg/logging"
	"github.com/AleutianAI/flowmesh/pkg/security"
	"github.com/AleutianAI/flowmesh/services/conductor/blackboard"
	"github.com/AleutianAI/flowmesh/services/conductor/events"
	"github.com/AleutianAI/flowmesh/services/conductor/history"
	"github.com/AleutianAI/flowmesh/services/conductor/memory"
	"github.com/AleutianAI/flowmesh/services/conductor/nodes"
	"github.com/AleutianAI/flowmesh/services/conductor/tools"
	"github.com/AleutianAI/flowmesh/services/conductor/traffic"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
	"github.com/AleutianAI/flowmesh/services/llm"
)

var tracer = otel.Tracer("flowmesh.conductor.engine")

// Timing defaults.
const (
	// defaultIdleDelay is the pause between frontier scans when
	// nothing is ready.
	defaultIdleDelay = 500 * time.Millisecond

	// defaultApprovalPoll is how often a waiting node checks for an
	// operator decision.
	defaultApprovalPoll = time.Second

	// storyDepth is how many recent narrative outputs feed forward
	// into agent context.
	storyDepth = 5

	tracePreview = 200
)

// RunResult summarizes one execution.
type RunResult struct {
	// Success is true when every node finished complete or skipped.
	Success bool
	Message string

	// Outputs maps each output node's name to its content.
	Outputs map[string]string

	// Statuses maps node id to final status.
	Statuses map[string]workflow.Status

	// Blackboard is the final shared state.
	Blackboard map[string]any
}

// Engine executes one workflow. An engine may run the same workflow
// repeatedly; conversation memory and the blackboard persist across
// runs until Reset.
type Engine struct {
	wf       *workflow.Workflow
	registry *nodes.Registry
	traffic  *traffic.Controller
	bus      *events.Bus
	board    *blackboard.Blackboard
	store    *memory.Store
	archive  *history.Store
	logger   *logging.Logger

	llms            *llm.Registry
	failover        *llm.FailoverManager
	defaultProvider string
	generate        nodes.GenerateFunc

	baseDir   string
	prefix    string
	sessionID string

	idleDelay    time.Duration
	approvalPoll time.Duration
	sleep        func(context.Context, time.Duration)

	mu            sync.Mutex
	stopRequested bool
	cancel        context.CancelFunc
	initialInput  string
	decisions     map[string]string
	dispatchInput map[string]string
	verdicts      map[string]verdict
	fired         map[*workflow.Edge]bool
	story         []string
	conversations map[string]*memory.SummaryBuffer
	snapshots     []Snapshot
	step          int

	exportLog   *os.File
	unsubscribe func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus attaches a shared event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithTraffic shares an admission controller, typically so parent
// and sub-workflows compete for the same slots.
func WithTraffic(c *traffic.Controller) Option {
	return func(e *Engine) { e.traffic = c }
}

// WithRegistry replaces the executor registry.
func WithRegistry(r *nodes.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLLM wires the provider registry and failover manager. Agent
// nodes generate through this path unless WithGenerate overrides it.
func WithLLM(reg *llm.Registry, fo *llm.FailoverManager, defaultProvider string) Option {
	return func(e *Engine) {
		e.llms = reg
		e.failover = fo
		e.defaultProvider = defaultProvider
	}
}

// WithGenerate replaces the generation backend directly.
func WithGenerate(g nodes.GenerateFunc) Option {
	return func(e *Engine) { e.generate = g }
}

// WithMemory attaches the long-term retrieval store.
func WithMemory(s *memory.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithHistory attaches the persistent trace and snapshot archive.
func WithHistory(h *history.Store) Option {
	return func(e *Engine) { e.archive = h }
}

// WithBaseDir sets the session working directory for tool calls and
// output files.
func WithBaseDir(dir string) Option {
	return func(e *Engine) { e.baseDir = dir }
}

// WithNamePrefix prefixes node names in published events. Used when
// a sub-workflow bubbles events through the parent's bus.
func WithNamePrefix(prefix string) Option {
	return func(e *Engine) { e.prefix = prefix }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimings overrides the idle and approval-poll delays. Tests use
// this to avoid real sleeps.
func WithTimings(idle, approvalPoll time.Duration) Option {
	return func(e *Engine) {
		e.idleDelay = idle
		e.approvalPoll = approvalPoll
	}
}

// New validates the workflow and builds an engine around it.
func New(wf *workflow.Workflow, opts ...Option) (*Engine, error) {
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	e := &Engine{
		wf:            wf,
		sessionID:     ulid.Make().String(),
		idleDelay:     defaultIdleDelay,
		approvalPoll:  defaultApprovalPoll,
		decisions:     make(map[string]string),
		dispatchInput: make(map[string]string),
		verdicts:      make(map[string]verdict),
		fired:         make(map[*workflow.Edge]bool),
		conversations: make(map[string]*memory.SummaryBuffer),
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.Default()
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.traffic == nil {
		e.traffic = traffic.NewController(1, traffic.WithLogger(e.logger))
	}
	if e.registry == nil {
		e.registry = nodes.NewRegistry()
	}
	if e.board == nil {
		e.board = blackboard.New(func(state map[string]any) {
			e.bus.Publish(events.NewBlackboardUpdate(state))
		})
	}
	if e.generate == nil && e.llms != nil {
		e.generate = e.llmGenerate
	}
	return e, nil
}

// SessionID returns the run's unique session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// Bus returns the engine's event bus for observers.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Blackboard returns the shared state map.
func (e *Engine) Blackboard() *blackboard.Blackboard { return e.board }

// Execute runs the workflow to quiescence.
//
// # Description
//
// A fresh run resets runtime state and seeds the entry nodes. A
// resume keeps existing state and requeues anything caught running.
// The loop admits every ready node, waits for the pass to drain, and
// repeats until all nodes settle, the run is stopped, or no progress
// is possible. Execute never panics out; the result carries the
// outcome.
func (e *Engine) Execute(ctx context.Context, initialInput string, resume bool) RunResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	e.stopRequested = false
	e.initialInput = initialInput
	e.mu.Unlock()

	if resume {
		for _, n := range e.wf.Nodes {
			if n.Status == workflow.StatusRunning || n.Status == workflow.StatusWaitingApproval ||
				n.Status == workflow.StatusPaused {
				n.Status = workflow.StatusQueued
			}
		}
	} else {
		e.resetRunState()
		for _, n := range e.wf.EntryNodes() {
			n.Status = workflow.StatusQueued
			e.publishStatus(n, "")
		}
	}

	e.publish(events.NewLog("Engine", fmt.Sprintf("Workflow %q started (session %s)", e.wf.Name, e.sessionID)))

	stalled := false
	for {
		if ctx.Err() != nil || e.isStopped() {
			break
		}

		ready := e.admit()
		if len(ready) == 0 {
			if e.allSettled() {
				break
			}
			if stalled {
				break
			}
			stalled = true
			e.sleep(ctx, e.idleDelay)
			continue
		}
		stalled = false

		var wg sync.WaitGroup
		for _, n := range ready {
			wg.Add(1)
			go func(n *workflow.Node) {
				defer wg.Done()
				e.runNode(ctx, n)
			}(n)
		}
		wg.Wait()
	}

	return e.finish()
}

// admit returns the current frontier: queued nodes plus idle nodes
// whose incoming edges are all resolved. Idle nodes whose every
// resolved edge is blocked are marked skipped instead.
func (e *Engine) admit() []*workflow.Node {
	ids := make([]string, 0, len(e.wf.Nodes))
	for id := range e.wf.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var ready []*workflow.Node
	for _, id := range ids {
		n := e.wf.Nodes[id]
		switch n.Status {
		case workflow.StatusQueued:
			ready = append(ready, n)
		case workflow.StatusIdle:
			incoming := e.incomingEdges(id)
			if len(incoming) == 0 {
				continue
			}
			satisfied, pending := 0, 0
			for _, edge := range incoming {
				switch e.edgeState(edge) {
				case edgeSatisfied:
					satisfied++
				case edgePending:
					pending++
				}
			}
			if pending > 0 {
				continue
			}
			if satisfied == 0 {
				n.Status = workflow.StatusSkipped
				e.publishStatus(n, "")
				continue
			}
			n.Status = workflow.StatusQueued
			e.publishStatus(n, "")
			ready = append(ready, n)
		}
	}
	return ready
}

func (e *Engine) incomingEdges(nodeID string) []*workflow.Edge {
	var in []*workflow.Edge
	for _, edge := range e.wf.Edges {
		if edge.Target == nodeID && !edge.Feedback {
			in = append(in, edge)
		}
	}
	return in
}

// allSettled reports whether every node has reached a terminal state.
func (e *Engine) allSettled() bool {
	for _, n := range e.wf.Nodes {
		switch n.Status {
		case workflow.StatusComplete, workflow.StatusFailed, workflow.StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// runNode executes one node end to end. Panics are contained here so
// a broken executor fails its node, not the run.
func (e *Engine) runNode(ctx context.Context, n *workflow.Node) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node executor panicked", "node", n.Name, "panic", fmt.Sprint(r))
			e.failNode(n, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := e.traffic.Acquire(ctx, n.Name, priorityFor(n.Kind)); err != nil {
		e.failNode(n, fmt.Sprintf("admission failed: %v", err))
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			e.traffic.Release()
		}
	}
	defer release()

	e.setStatus(n, workflow.StatusRunning, "")

	input, assembled := e.assemble(n)
	if fb, ok := e.board.TakeFeedback(n.ID); ok {
		input = strings.TrimSpace(input + "\n\n## Operator Feedback:\n" + fb)
		e.publish(events.NewLog(e.prefix+n.Name, "Applying operator feedback"))
	}

	traceID := ulid.Make().String()
	e.publishTrace(traceID, n, "started", preview(input, tracePreview), "", "")

	sctx, span := tracer.Start(ctx, "engine.node")
	span.SetAttributes(
		attribute.String("node.id", n.ID),
		attribute.String("node.kind", string(n.Kind)),
		attribute.String("session.id", e.sessionID),
	)
	res := e.executeKind(sctx, n, input, assembled)
	span.End()

	if res.OK && len(n.SubWorkflows) > 0 {
		subOutput, err := e.runSubWorkflows(ctx, n, input)
		if err != nil {
			res = nodes.Result{Err: err.Error()}
		} else if subOutput != "" {
			res.Output = strings.TrimSpace(res.Output + "\n\n" + subOutput)
		}
	}

	if !res.OK {
		e.publishTrace(traceID, n, "failed", "", "", res.Err)
		e.failNode(n, res.Err)
		return
	}

	output := e.postProcess(ctx, n, res.Output)
	n.SetOutput(output)

	// The approval gate holds a finished node: the output is computed
	// and stored before the operator sees it, and only an approval
	// lets it complete and drive routing. The admission slot is given
	// back first so other nodes keep running during the wait.
	if n.RequiresApproval {
		release()
		n.Status = workflow.StatusWaitingApproval
		n.DisplayStatus = "Awaiting operator approval"
		e.publish(events.NewStatus(n.ID, e.prefix+n.Name, string(n.Status), n.DisplayStatus, output))
		switch e.awaitDecision(ctx, n.ID) {
		case decisionApprove:
			e.publish(events.NewLog(e.prefix+n.Name, "Approved by operator"))
		case decisionReject:
			n.Output = nil
			e.publishTrace(traceID, n, "failed", "", "", "rejected by operator")
			e.failNode(n, "rejected by operator")
			return
		default:
			n.Output = nil
			e.setStatus(n, workflow.StatusPaused, "Stopped while awaiting approval")
			return
		}
	}

	n.IterationCount++
	e.setStatusOutput(n, workflow.StatusComplete, output)
	e.recordStory(n, output)
	e.applyRouting(n, output)
	e.persistOutput(n, output)
	e.publishTrace(traceID, n, "completed", "", preview(output, tracePreview), "")
	e.takeSnapshot(n.ID)
}

// executeKind dispatches to the registered executor and bridges its
// events onto the bus.
func (e *Engine) executeKind(ctx context.Context, n *workflow.Node, input, assembled string) nodes.Result {
	exec, err := e.registry.New(n.Kind)
	if err != nil {
		return nodes.Result{Err: err.Error()}
	}

	ec := &nodes.ExecContext{
		Node:       n,
		Input:      input,
		Context:    assembled,
		BaseDir:    e.baseDir,
		Blackboard: e.board,
		Memory:     e.store,
		Generate:   e.generate,
		EmitLog: func(speaker, message string) {
			e.publish(events.NewLog(e.prefix+speaker, security.SanitizeLogMessage(message, 0)))
		},
		EmitThought: func(name, thought string) {
			e.publish(events.NewThought(e.prefix+name, thought))
		},
		Timestamp: time.Now(),
	}
	if n.Kind.IsAgentKind() {
		ec.Conversation = e.conversation(n.ID)
	}

	res := exec.Execute(ctx, ec)
	if res.UIEvent != nil {
		e.bus.Publish(events.Event{Type: events.TypeA2UI, Data: events.A2UIPayload{
			NodeID:   n.ID,
			NodeName: e.prefix + n.Name,
			Schema:   res.UIEvent,
		}})
	}
	return res
}

// postProcess applies directive tags, blackboard writes, and tool
// calls to a completed output and returns the cleaned text.
func (e *Engine) postProcess(ctx context.Context, n *workflow.Node, output string) string {
	output = e.processDirectives(ctx, n, output)

	cleaned, writes := e.board.ExtractTags(output)
	if writes > 0 {
		e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Updated shared state (%d write(s))", writes)))
	}
	output = cleaned

	if n.Kind.IsAgentKind() && e.baseDir != "" && tools.HasTags(output) {
		proc, err := tools.NewProcessor(e.baseDir, &busEmitter{engine: e, name: n.Name},
			tools.WithLogger(e.logger))
		if err != nil {
			e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Tool processing unavailable: %v", err)))
		} else {
			results := proc.ProcessAll(ctx, output)
			for _, msg := range results.Errors {
				e.publish(events.NewLog(e.prefix+n.Name, "Tool error: "+msg))
			}
			output = tools.StripTags(output)
		}
	}
	return strings.TrimSpace(output)
}

// assemble builds a node's input and context.
//
// Context is the labelled concatenation of completed predecessor
// outputs, plus the recent narrative history for agent kinds. Input
// is a pending dispatch override, or the run input for entry nodes.
func (e *Engine) assemble(n *workflow.Node) (input, assembled string) {
	preds := e.wf.Predecessors(n.ID)
	sort.Slice(preds, func(i, j int) bool { return preds[i].Name < preds[j].Name })

	var parts []string
	for _, p := range preds {
		if p.Status == workflow.StatusComplete && p.OutputString() != "" {
			parts = append(parts, fmt.Sprintf("[%s]: %s", p.Name, p.OutputString()))
		}
	}
	assembled = strings.Join(parts, "\n\n")

	if n.Kind.IsAgentKind() {
		if recent := e.recentStory(); len(recent) > 0 {
			assembled = strings.TrimSpace(assembled + "\n\n## Story So Far:\n" + strings.Join(recent, "\n"))
		}
	}

	e.mu.Lock()
	if v, ok := e.dispatchInput[n.ID]; ok {
		delete(e.dispatchInput, n.ID)
		input = v
	}
	initial := e.initialInput
	e.mu.Unlock()

	if input == "" && len(preds) == 0 {
		input = initial
	}
	return input, assembled
}

// recordStory keeps the rolling narrative history fed to agents.
func (e *Engine) recordStory(n *workflow.Node, output string) {
	switch n.Kind {
	case workflow.KindDirector, workflow.KindCharacter, workflow.KindAuditor:
		e.mu.Lock()
		e.story = append(e.story, fmt.Sprintf("[%s]: %s", n.Name, preview(output, 300)))
		e.mu.Unlock()
	}
}

func (e *Engine) recentStory() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.story) == 0 {
		return nil
	}
	start := len(e.story) - storyDepth
	if start < 0 {
		start = 0
	}
	return append([]string(nil), e.story[start:]...)
}

func (e *Engine) conversation(nodeID string) *memory.SummaryBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if buf, ok := e.conversations[nodeID]; ok {
		return buf
	}
	buf := memory.NewSummaryBuffer()
	e.conversations[nodeID] = buf
	return buf
}

// persistOutput writes the node output to its save path. Output
// nodes handle their own persistence.
func (e *Engine) persistOutput(n *workflow.Node, output string) {
	if !n.SaveEnabled || n.SavePath == "" || n.Kind == workflow.KindOutput {
		return
	}
	if err := os.MkdirAll(filepath.Dir(n.SavePath), 0750); err != nil {
		e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Save failed: %v", err)))
		return
	}
	if err := os.WriteFile(n.SavePath, []byte(output), 0640); err != nil {
		e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Save failed: %v", err)))
		return
	}
	e.publish(events.NewLog(e.prefix+n.Name, "Output saved to "+n.SavePath))
}

// finish builds the run summary and publishes completion.
func (e *Engine) finish() RunResult {
	result := RunResult{
		Outputs:    make(map[string]string),
		Statuses:   make(map[string]workflow.Status),
		Blackboard: e.board.Snapshot(),
	}

	settled, unreached, failed := 0, 0, 0
	for id, n := range e.wf.Nodes {
		result.Statuses[id] = n.Status
		switch n.Status {
		case workflow.StatusComplete, workflow.StatusSkipped:
			settled++
		case workflow.StatusFailed:
			failed++
		default:
			unreached++
		}
		if n.Kind == workflow.KindOutput && n.Status == workflow.StatusComplete {
			result.Outputs[n.Name] = n.OutputString()
		}
	}

	switch {
	case e.isStopped():
		result.Message = "workflow stopped by operator"
	case failed > 0:
		result.Message = fmt.Sprintf("%d node(s) failed", failed)
	case unreached > 0:
		result.Message = fmt.Sprintf("workflow stalled: %d node(s) unreachable", unreached)
	default:
		result.Success = true
		result.Message = "workflow completed"
	}

	e.publish(events.NewComplete(result.Success, result.Message))
	return result
}

// llmGenerate is the default generation backend: the provider
// registry behind the failover manager.
func (e *Engine) llmGenerate(ctx context.Context, req nodes.GenerateRequest) (string, string, string, error) {
	provider := req.Node.Provider
	if provider == "" {
		provider = e.defaultProvider
	}
	model := req.Node.Model
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}

	task := func(ctx context.Context, p, m string) (string, error) {
		return e.llms.Generate(ctx, p, llm.Request{
			System:    req.System,
			User:      req.User,
			Context:   req.Context,
			Model:     m,
			OnThought: req.OnThought,
		})
	}

	if e.failover == nil {
		out, err := task(ctx, provider, model)
		return out, provider, model, err
	}

	onFailover := func(oldP, oldM, newP, newM string, reason llm.Reason) {
		e.publish(events.NewLog(e.prefix+req.Node.Name,
			fmt.Sprintf("Provider failover %s/%s -> %s/%s (%s)", oldP, oldM, newP, newM, reason)))
	}
	out, used, err := e.failover.Execute(ctx, provider, model, task, onFailover, req.Category)
	return out, used.Provider, used.Model, err
}

func (e *Engine) resetRunState() {
	e.wf.ResetRuntime()
	e.mu.Lock()
	e.decisions = make(map[string]string)
	e.dispatchInput = make(map[string]string)
	e.verdicts = make(map[string]verdict)
	e.fired = make(map[*workflow.Edge]bool)
	e.story = nil
	e.snapshots = nil
	e.step = 0
	e.mu.Unlock()
}

func (e *Engine) failNode(n *workflow.Node, msg string) {
	n.SetError(msg)
	n.Status = workflow.StatusFailed
	e.publish(events.NewStatus(n.ID, e.prefix+n.Name, string(workflow.StatusFailed), preview(msg, 120), ""))
	e.publish(events.NewLog(e.prefix+n.Name, "Failed: "+msg))
}

func (e *Engine) setStatus(n *workflow.Node, s workflow.Status, display string) {
	n.Status = s
	n.DisplayStatus = display
	e.publishStatus(n, display)
}

func (e *Engine) setStatusOutput(n *workflow.Node, s workflow.Status, output string) {
	n.Status = s
	n.DisplayStatus = ""
	e.publish(events.NewStatus(n.ID, e.prefix+n.Name, string(s), "", output))
}

func (e *Engine) publishStatus(n *workflow.Node, display string) {
	e.publish(events.NewStatus(n.ID, e.prefix+n.Name, string(n.Status), display, ""))
}

func (e *Engine) publish(evt events.Event) {
	e.bus.Publish(evt)
}

func (e *Engine) publishTrace(traceID string, n *workflow.Node, status, inputs, outputs, errMsg string) {
	payload := events.TracePayload{
		TraceID:   traceID,
		NodeID:    n.ID,
		NodeName:  e.prefix + n.Name,
		Status:    status,
		Inputs:    inputs,
		Outputs:   outputs,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	e.bus.Publish(events.Event{Type: events.TypeTrace, Data: payload})

	if e.archive != nil {
		e.mu.Lock()
		step := e.step
		e.mu.Unlock()
		if err := e.archive.AppendTrace(e.sessionID, step, payload); err != nil {
			e.logger.Warn("trace archive write failed", "error", err)
		}
	}
}

// priorityFor maps a node kind onto an admission priority. Directors
// and system nodes jump the queue; critics and auditors always yield.
func priorityFor(kind workflow.Kind) traffic.Priority {
	switch kind {
	case workflow.KindDirector, workflow.KindSystem:
		return traffic.PriorityVIP
	case workflow.KindRouter:
		return traffic.PriorityHigh
	case workflow.KindCritic, workflow.KindAuditor:
		return traffic.PriorityBulk
	default:
		return traffic.PriorityStandard
	}
}

// busEmitter bridges tool-processor progress onto the event bus.
type busEmitter struct {
	engine *Engine
	name   string
}

func (b *busEmitter) Log(message string) {
	b.engine.publish(events.NewLog(b.engine.prefix+b.name, message))
}

func (b *busEmitter) Thought(content string) {
	b.engine.publish(events.NewThought(b.engine.prefix+b.name, content))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
