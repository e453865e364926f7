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
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// runSubWorkflows executes every embedded sub-workflow of a node
// concurrently and returns their combined output.
//
// Each child gets its own engine sharing the parent's traffic
// controller and generation backend. When the node bubbles events,
// the child publishes onto the parent's bus with its names prefixed
// by the parent node; otherwise child events stay private. The
// combined output concatenates each child's output-node contents in
// sub-workflow order.
func (e *Engine) runSubWorkflows(ctx context.Context, n *workflow.Node, input string) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	outputs := make([]string, len(n.SubWorkflows))

	for i, raw := range n.SubWorkflows {
		i, raw := i, raw
		g.Go(func() error {
			sub, err := workflow.Unmarshal(raw)
			if err != nil {
				return fmt.Errorf("parse sub-workflow %d of %s: %w", i, n.Name, err)
			}

			opts := []Option{
				WithTraffic(e.traffic),
				WithGenerate(e.generate),
				WithRegistry(e.registry),
				WithMemory(e.store),
				WithBaseDir(e.baseDir),
				WithLogger(e.logger),
				WithTimings(e.idleDelay, e.approvalPoll),
			}
			if n.ReturnEventBubble {
				opts = append(opts,
					WithBus(e.bus),
					WithNamePrefix(e.prefix+n.Name+" > "),
				)
			}

			child, err := New(sub, opts...)
			if err != nil {
				return fmt.Errorf("sub-workflow %q: %w", sub.Name, err)
			}

			e.publish(events.NewLog(e.prefix+n.Name, "Starting sub-workflow "+sub.Name))
			result := child.Execute(gctx, input, false)
			if !result.Success {
				return fmt.Errorf("sub-workflow %q failed: %s", sub.Name, result.Message)
			}

			names := make([]string, 0, len(result.Outputs))
			for name := range result.Outputs {
				names = append(names, name)
			}
			sort.Strings(names)

			var parts []string
			for _, name := range names {
				if out := result.Outputs[name]; out != "" {
					parts = append(parts, out)
				}
			}
			outputs[i] = strings.Join(parts, "\n\n")
			e.publish(events.NewLog(e.prefix+n.Name, "Sub-workflow "+sub.Name+" completed"))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	var parts []string
	for _, out := range outputs {
		if out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
