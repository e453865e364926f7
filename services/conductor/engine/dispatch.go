// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// Directive tags let an agent steer the schedule from inside its own
// output: dispatch another node with a crafted input, or put the run
// to sleep.
var (
	dispatchPattern = regexp.MustCompile(`<dispatch_task\s+node=["'](.*?)["'](?:\s+input=["'](.*?)["'])?\s*/>`)
	sleepPattern    = regexp.MustCompile(`<sleep\s+duration=["'](.*?)["']\s*/>`)
)

// maxDirectiveSleep caps agent-requested sleeps so a runaway model
// cannot park the engine for days.
const maxDirectiveSleep = time.Hour

// processDirectives applies dispatch and sleep tags in an output and
// returns the output with the tags removed.
func (e *Engine) processDirectives(ctx context.Context, n *workflow.Node, output string) string {
	for _, match := range dispatchPattern.FindAllStringSubmatch(output, -1) {
		e.dispatchTask(n, match[1], match[2])
	}
	output = dispatchPattern.ReplaceAllString(output, "")

	for _, match := range sleepPattern.FindAllStringSubmatch(output, -1) {
		d, err := parseSleepDuration(match[1])
		if err != nil {
			e.publish(events.NewLog(e.prefix+n.Name, fmt.Sprintf("Ignoring bad sleep duration %q", match[1])))
			continue
		}
		if d > maxDirectiveSleep {
			d = maxDirectiveSleep
		}
		e.publish(events.NewLog(e.prefix+n.Name, "Sleeping for "+d.String()))
		e.sleep(ctx, d)
	}
	output = sleepPattern.ReplaceAllString(output, "")

	return strings.TrimSpace(output)
}

// dispatchTask queues the target node with the given input. The tag
// may address the target by display name or by id; a node that
// already ran is requeued, within its iteration budget.
func (e *Engine) dispatchTask(from *workflow.Node, targetName, input string) {
	target := e.wf.NodeByName(targetName)
	if target == nil {
		target = e.wf.Node(targetName)
	}
	if target == nil {
		e.publish(events.NewLog(e.prefix+from.Name, fmt.Sprintf("Dispatch target %q not found", targetName)))
		return
	}
	if target.ID == from.ID {
		e.publish(events.NewLog(e.prefix+from.Name, "Ignoring self-dispatch"))
		return
	}
	if target.IterationCount >= target.MaxIterations {
		e.publish(events.NewLog(e.prefix+from.Name,
			fmt.Sprintf("Dispatch target %s is out of iterations (%d/%d)", target.Name, target.IterationCount, target.MaxIterations)))
		return
	}

	e.mu.Lock()
	e.dispatchInput[target.ID] = input
	e.mu.Unlock()

	e.recycleNode(target)
	target.Status = workflow.StatusQueued
	e.publishStatus(target, "Dispatched by "+from.Name)
	e.publish(events.NewLog(e.prefix+from.Name, "Dispatched task to "+target.Name))
}

// parseSleepDuration reads durations in the authored form: a number
// with an optional s, m, or h suffix. A bare number means seconds.
func parseSleepDuration(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := time.Second
	switch raw[len(raw)-1] {
	case 'h':
		unit = time.Hour
		raw = raw[:len(raw)-1]
	case 'm':
		unit = time.Minute
		raw = raw[:len(raw)-1]
	case 's':
		raw = raw[:len(raw)-1]
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("bad duration %q", raw)
	}
	return time.Duration(value * float64(unit)), nil
}
