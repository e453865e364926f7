// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowmesh/pkg/ux"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// runValidate is the entry point for "flowmesh validate".
func runValidate(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		ux.Error("Cannot read " + args[0] + ": " + err.Error())
		os.Exit(1)
	}

	wf, err := workflow.Unmarshal(data)
	if err != nil {
		ux.Error("Parse failed: " + err.Error())
		os.Exit(1)
	}
	if err := wf.Validate(); err != nil {
		ux.Error("Validation failed: " + err.Error())
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("%s is valid: %d node(s), %d edge(s)",
		wf.Name, len(wf.Nodes), len(wf.Edges)))
}
