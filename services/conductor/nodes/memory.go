// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"fmt"
	"strings"
)

// MemoryExecutor bridges the long-term retrieval store. The node's
// memory_config selects the operation: "store" persists the node's
// context with optional tags, "retrieve" queries the corpus.
type MemoryExecutor struct{}

// Execute implements Executor.
func (e *MemoryExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	if ec.Memory == nil {
		return failure("memory node %q has no store attached", ec.Node.Name)
	}

	operation := "retrieve"
	if v, ok := ec.Node.MemoryConfig["operation"].(string); ok && v != "" {
		operation = strings.ToLower(v)
	}

	switch operation {
	case "store":
		return e.store(ec)
	case "retrieve":
		return e.retrieve(ec)
	default:
		return failure("unknown memory operation %q", operation)
	}
}

func (e *MemoryExecutor) store(ec *ExecContext) Result {
	content := ec.Context
	if content == "" {
		content = ec.Input
	}
	if strings.TrimSpace(content) == "" {
		return failure("nothing to store")
	}

	var tags []string
	if raw, ok := ec.Node.MemoryConfig["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	id, err := ec.Memory.Add(content, tags)
	if err != nil {
		return failure("store memory: %v", err)
	}
	ec.log(fmt.Sprintf("Stored memory %s (%d chars)", id, len(content)))
	return success(fmt.Sprintf("Memory stored successfully. ID: %s", id))
}

func (e *MemoryExecutor) retrieve(ec *ExecContext) Result {
	query := ec.Input
	if query == "" {
		query = ec.Context
	}

	topK := 5
	if v, ok := ec.Node.MemoryConfig["top_k"].(float64); ok && int(v) > 0 {
		topK = int(v)
	}
	var tags []string
	if raw, ok := ec.Node.MemoryConfig["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	matches := ec.Memory.Search(query, tags, topK)
	if len(matches) == 0 {
		return success("No relevant memories found.")
	}

	var sb strings.Builder
	sb.WriteString("## Retrieved Memories:\n")
	for _, m := range matches {
		fmt.Fprintf(&sb, "- [%.2f] %s\n", m.Score, preview(m.Entry.Content, 300))
	}
	return success(sb.String())
}
