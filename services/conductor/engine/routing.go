// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// verdict is an auditor's decision about the work in its context.
type verdict string

const (
	verdictNone     verdict = ""
	verdictApproved verdict = "approved"
	verdictRejected verdict = "rejected"
)

// Verdict markers, matched case-insensitively against auditor output.
// Rejection is checked first: "incomplete" must never read as
// "complete".
var (
	rejectionMarkers = []string{
		"incomplete", "needs_rework", "rejected", "not valid", "placeholder detected",
	}
	approvalMarkers = []string{
		"validated", "approved", "complete", "ready", "passed",
	}
)

// classifyVerdict scans output for verdict markers.
func classifyVerdict(output string) verdict {
	lowered := strings.ToLower(output)
	for _, marker := range rejectionMarkers {
		if strings.Contains(lowered, marker) {
			return verdictRejected
		}
	}
	for _, marker := range approvalMarkers {
		if strings.Contains(lowered, marker) {
			return verdictApproved
		}
	}
	return verdictNone
}

// edgeState is the readiness contribution of one incoming edge.
type edgeState int

const (
	edgePending edgeState = iota
	edgeSatisfied
	edgeBlocked
)

// edgeState resolves one edge against its source node's outcome.
//
// A completed auditor source gates the edge on its verdict: approved
// opens it, rejected or no verdict holds it pending (rejection is
// handled by loop recycling, absence of a verdict advances nothing).
// A conditional edge from a completed source is satisfied only when
// its condition fired.
func (e *Engine) edgeState(edge *workflow.Edge) edgeState {
	src := e.wf.Node(edge.Source)
	if src == nil {
		return edgeBlocked
	}

	switch src.Status {
	case workflow.StatusComplete:
		if src.Kind == workflow.KindAuditor && e.verdictOf(src.ID) != verdictApproved {
			return edgePending
		}
		if edge.Condition != "" && !e.edgeFired(edge) {
			return edgeBlocked
		}
		return edgeSatisfied
	case workflow.StatusSkipped, workflow.StatusFailed:
		return edgeBlocked
	default:
		return edgePending
	}
}

// applyRouting fires outgoing edges and applies auditor verdicts
// after a node completes.
func (e *Engine) applyRouting(n *workflow.Node, output string) {
	for _, edge := range e.wf.Outgoing(n.ID) {
		if edge.Feedback {
			continue
		}
		if edge.Condition == "" {
			e.setFired(edge, true)
			continue
		}
		fired := e.conditionMatches(edge.Condition, n, output)
		e.setFired(edge, fired)
		if target := e.wf.Node(edge.Target); target != nil {
			state := "not taken"
			if fired {
				state = "taken"
			}
			e.publish(events.NewLog(e.prefix+n.Name,
				fmt.Sprintf("Route to %s %s (condition %q)", target.Name, state, preview(edge.Condition, 60))))
		}
	}

	if n.Kind != workflow.KindAuditor {
		return
	}

	v := classifyVerdict(output)
	e.setVerdict(n.ID, v)
	switch v {
	case verdictApproved:
		e.publish(events.NewLog(e.prefix+n.Name, "Verdict: approved"))
	case verdictRejected:
		e.publish(events.NewLog(e.prefix+n.Name, "Verdict: rework required"))
		e.recycleLoop(n, output)
	default:
		e.publish(events.NewLog(e.prefix+n.Name, "No verdict detected; downstream nodes stay gated"))
	}
}

// conditionMatches evaluates a routing condition against the node's
// output: a case-insensitive substring, or an expression when
// prefixed with "expr:".
func (e *Engine) conditionMatches(condition string, n *workflow.Node, output string) bool {
	if code, ok := strings.CutPrefix(condition, "expr:"); ok {
		env := map[string]any{
			"output":     output,
			"node":       n.Name,
			"blackboard": e.board.Snapshot(),
		}
		program, err := expr.Compile(strings.TrimSpace(code), expr.Env(env), expr.AsBool())
		if err != nil {
			e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Bad route expression: %v", err)))
			return false
		}
		result, err := expr.Run(program, env)
		if err != nil {
			e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Route expression failed: %v", err)))
			return false
		}
		matched, _ := result.(bool)
		return matched
	}
	return strings.Contains(strings.ToLower(output), strings.ToLower(condition))
}

// recycleLoop sends the targets of the auditor's feedback edges back
// through the loop with the auditor's critique attached.
//
// Each feedback target still under its iteration budget is requeued
// along with every node between it and the auditor, the auditor
// included, so the whole loop body reruns. A target out of budget is
// accepted as-is so the run can finish.
func (e *Engine) recycleLoop(auditor *workflow.Node, critique string) {
	recycled := false
	for _, edge := range e.wf.Outgoing(auditor.ID) {
		if !edge.Feedback {
			continue
		}
		target := e.wf.Node(edge.Target)
		if target == nil {
			continue
		}
		if target.IterationCount >= target.MaxIterations {
			e.publish(events.NewLog(e.prefix+auditor.Name,
				fmt.Sprintf("Max iterations reached on %s; accepting despite rework verdict", target.Name)))
			continue
		}

		e.board.AppendFeedback(target.ID, critique)
		for _, member := range e.loopMembers(target, auditor) {
			e.recycleNode(member)
		}
		target.Status = workflow.StatusQueued
		e.publishStatus(target, fmt.Sprintf("Rework %d/%d", target.IterationCount+1, target.MaxIterations))
		e.publish(events.NewLog(e.prefix+auditor.Name, "Sent back to "+target.Name+" for rework"))
		recycled = true
	}

	if recycled {
		e.setVerdict(auditor.ID, verdictNone)
	} else {
		// Nothing to recycle; release the gate so the run can end.
		e.setVerdict(auditor.ID, verdictApproved)
	}
}

// loopMembers collects the nodes on non-feedback paths from start to
// the auditor, both endpoints included.
func (e *Engine) loopMembers(start, auditor *workflow.Node) []*workflow.Node {
	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	var members []*workflow.Node

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		members = append(members, e.wf.Node(id))
		if id == auditor.ID {
			continue
		}
		for _, edge := range e.wf.Outgoing(id) {
			if edge.Feedback || visited[edge.Target] {
				continue
			}
			visited[edge.Target] = true
			queue = append(queue, edge.Target)
		}
	}
	return members
}

// recycleNode returns a node to idle while preserving its iteration
// count, so loop budgets survive the rerun.
func (e *Engine) recycleNode(n *workflow.Node) {
	n.Status = workflow.StatusIdle
	n.DisplayStatus = ""
	n.Output = nil
	n.Error = nil

	e.mu.Lock()
	delete(e.verdicts, n.ID)
	for _, edge := range e.wf.Edges {
		if edge.Source == n.ID {
			delete(e.fired, edge)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) verdictOf(nodeID string) verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verdicts[nodeID]
}

func (e *Engine) setVerdict(nodeID string, v verdict) {
	e.mu.Lock()
	e.verdicts[nodeID] = v
	e.mu.Unlock()
}

func (e *Engine) edgeFired(edge *workflow.Edge) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired[edge]
}

func (e *Engine) setFired(edge *workflow.Edge, fired bool) {
	e.mu.Lock()
	e.fired[edge] = fired
	e.mu.Unlock()
}
