// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// Snapshot captures the run state after one node step, enough to
// rewind the run to that point.
type Snapshot struct {
	Step      int       `json:"step"`
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`

	Statuses   map[string]workflow.Status `json:"statuses"`
	Outputs    map[string]string          `json:"outputs"`
	Iterations map[string]int             `json:"iterations"`
	Blackboard map[string]any             `json:"blackboard"`
}

// takeSnapshot records the run state after a node step and archives
// it when a history store is attached.
func (e *Engine) takeSnapshot(nodeID string) {
	snap := Snapshot{
		NodeID:     nodeID,
		Timestamp:  time.Now().UTC(),
		Statuses:   make(map[string]workflow.Status, len(e.wf.Nodes)),
		Outputs:    make(map[string]string, len(e.wf.Nodes)),
		Iterations: make(map[string]int, len(e.wf.Nodes)),
		Blackboard: e.board.Snapshot(),
	}
	for id, n := range e.wf.Nodes {
		snap.Statuses[id] = n.Status
		snap.Outputs[id] = n.OutputString()
		snap.Iterations[id] = n.IterationCount
	}

	e.mu.Lock()
	snap.Step = e.step
	e.step++
	e.snapshots = append(e.snapshots, snap)
	e.mu.Unlock()

	if e.archive != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			err = e.archive.SaveSnapshot(e.sessionID, snap.Step, data)
		}
		if err != nil {
			e.logger.Warn("snapshot archive write failed", "step", snap.Step, "error", err)
		}
	}
}

// Snapshots returns the recorded snapshots in step order.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Snapshot(nil), e.snapshots...)
}

// ReplayFrom rewinds the run to the state captured at the given
// step. The next Execute call with resume=true continues from there.
//
// Snapshots after the chosen step are discarded, so a replay forks
// the timeline rather than appending to it.
func (e *Engine) ReplayFrom(step int) error {
	e.mu.Lock()
	var target *Snapshot
	for i := range e.snapshots {
		if e.snapshots[i].Step == step {
			target = &e.snapshots[i]
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		return fmt.Errorf("no snapshot at step %d", step)
	}
	snap := *target
	e.snapshots = e.snapshots[:indexOfStep(e.snapshots, step)+1]
	e.step = step + 1
	e.decisions = make(map[string]string)
	e.dispatchInput = make(map[string]string)
	e.verdicts = make(map[string]verdict)
	e.fired = make(map[*workflow.Edge]bool)
	e.mu.Unlock()

	for id, n := range e.wf.Nodes {
		status, ok := snap.Statuses[id]
		if !ok {
			n.ResetRuntime()
			continue
		}
		if status == workflow.StatusRunning || status == workflow.StatusWaitingApproval {
			status = workflow.StatusQueued
		}
		n.Status = status
		n.DisplayStatus = ""
		n.Error = nil
		if out := snap.Outputs[id]; out != "" {
			n.SetOutput(out)
		} else {
			n.Output = nil
		}
		n.IterationCount = snap.Iterations[id]
	}
	e.board.Restore(snap.Blackboard)

	// Re-derive routing state from the restored outputs so gates and
	// conditional edges resolve the same way they did originally.
	for _, n := range e.wf.Nodes {
		if n.Status != workflow.StatusComplete {
			continue
		}
		output := n.OutputString()
		if n.Kind == workflow.KindAuditor {
			e.setVerdict(n.ID, classifyVerdict(output))
		}
		for _, edge := range e.wf.Outgoing(n.ID) {
			if edge.Feedback {
				continue
			}
			if edge.Condition == "" {
				e.setFired(edge, true)
			} else {
				e.setFired(edge, e.conditionMatches(edge.Condition, n, output))
			}
		}
	}

	e.publish(events.NewLog("Engine", fmt.Sprintf("Replaying from step %d", step)))
	return nil
}

func indexOfStep(snaps []Snapshot, step int) int {
	for i := range snaps {
		if snaps[i].Step == step {
			return i
		}
	}
	return len(snaps) - 1
}
