// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validation failures returned by Validate.
var (
	// ErrUnknownKind indicates a node kind outside the closed set.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrDanglingEdge indicates an edge endpoint that references no
	// node.
	ErrDanglingEdge = errors.New("edge references missing node")

	// ErrCycle indicates a cycle in the non-feedback subgraph.
	ErrCycle = errors.New("cycle in non-feedback subgraph")

	// ErrNoNodes indicates an empty workflow.
	ErrNoNodes = errors.New("workflow has no nodes")
)

// structValidator checks struct tags on document types.
var structValidator = validator.New()

// Validate checks the workflow is executable: required fields
// present, every node kind known, every edge endpoint resolvable,
// and no cycle among non-feedback edges. Feedback edges may form
// cycles freely.
//
// Outputs:
//
//	error - The first structural problem found, wrapping one of the
//	sentinel errors above, or nil
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return ErrNoNodes
	}

	for id, n := range w.Nodes {
		if err := structValidator.Struct(n); err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		if !allKinds[n.Kind] {
			return fmt.Errorf("%w: node %q has kind %q", ErrUnknownKind, id, n.Kind)
		}
	}

	for _, e := range w.Edges {
		if err := structValidator.Struct(e); err != nil {
			return fmt.Errorf("edge %s->%s: %w", e.Source, e.Target, err)
		}
		if w.Nodes[e.Source] == nil {
			return fmt.Errorf("%w: source %q", ErrDanglingEdge, e.Source)
		}
		if w.Nodes[e.Target] == nil {
			return fmt.Errorf("%w: target %q", ErrDanglingEdge, e.Target)
		}
	}

	return w.checkAcyclic()
}

// checkAcyclic runs three-color DFS over the non-feedback subgraph.
func (w *Workflow) checkAcyclic() error {
	adjacency := make(map[string][]string)
	for _, e := range w.Edges {
		if !e.Feedback {
			adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adjacency[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: involving %q and %q", ErrCycle, id, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range w.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
