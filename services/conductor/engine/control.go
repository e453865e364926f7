// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
)

// Operator decisions for approval gates.
const (
	decisionApprove = "approve"
	decisionReject  = "reject"
)

// Pause gates new node admissions. Nodes already running finish
// their current step.
func (e *Engine) Pause() {
	e.traffic.Pause()
	e.publish(events.NewLog("Engine", "Paused"))
}

// Resume re-enables admissions.
func (e *Engine) Resume() {
	e.traffic.Resume()
	e.publish(events.NewLog("Engine", "Resumed"))
}

// Stop ends the run. In-flight node work is cancelled; the run
// result reports the stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopRequested = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.publish(events.NewLog("Engine", "Stop requested"))
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

// Approve releases a node waiting at an approval gate.
func (e *Engine) Approve(nodeID string) {
	e.setDecision(nodeID, decisionApprove)
}

// Reject fails a node waiting at an approval gate.
func (e *Engine) Reject(nodeID string) {
	e.setDecision(nodeID, decisionReject)
}

func (e *Engine) setDecision(nodeID, decision string) {
	e.mu.Lock()
	e.decisions[nodeID] = decision
	e.mu.Unlock()
}

// awaitDecision polls for an operator decision. Decisions are
// one-shot: consuming one clears it. Returns "" when the run is
// stopped or the context expires first.
func (e *Engine) awaitDecision(ctx context.Context, nodeID string) string {
	for {
		e.mu.Lock()
		decision, ok := e.decisions[nodeID]
		if ok {
			delete(e.decisions, nodeID)
		}
		stopped := e.stopRequested
		e.mu.Unlock()

		if ok {
			return decision
		}
		if stopped || ctx.Err() != nil {
			return ""
		}
		e.sleep(ctx, e.approvalPoll)
	}
}

// Feedback records operator guidance for a node. The node consumes
// it on its next run, or on recycle.
func (e *Engine) Feedback(nodeID, text string) {
	e.board.AppendFeedback(nodeID, text)
	if n := e.wf.Node(nodeID); n != nil {
		e.publish(events.NewLog("Engine", "Feedback queued for "+n.Name))
	}
}

// ClearBlackboard wipes shared state.
func (e *Engine) ClearBlackboard() {
	e.board.Clear()
	e.publish(events.NewLog("Engine", "Blackboard cleared"))
}

// Reset returns the workflow, shared state, and run bookkeeping to a
// fresh slate. Conversation memory is kept; use a new engine to drop
// it.
func (e *Engine) Reset() {
	e.resetRunState()
	e.board.Clear()
	e.publish(events.NewLog("Engine", "Reset"))
}

// Close releases engine resources: the export log and any bus
// subscription it owns. The bus itself is left to its owner.
func (e *Engine) Close() error {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.exportLog != nil {
		err := e.exportLog.Close()
		e.exportLog = nil
		return err
	}
	return nil
}
