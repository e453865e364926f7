// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// InputExecutor passes the run's initial input through unchanged.
type InputExecutor struct{}

// Execute implements Executor.
func (e *InputExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	return success(ec.Input)
}

// OutputExecutor terminates a branch: its output is its context, and
// the context is persisted to the node's save path or to an
// auto-named file inside the session export directory.
type OutputExecutor struct{}

// Execute implements Executor.
func (e *OutputExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	content := ec.Context
	if content == "" {
		content = ec.Input
	}

	path := ec.Node.SavePath
	if path == "" && ec.BaseDir != "" {
		path = filepath.Join(ec.BaseDir, fmt.Sprintf("output_%s_%s.txt",
			ec.Node.ID, ec.Timestamp.Format("20060102_150405")))
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return failure("create output dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0640); err != nil {
			return failure("write output file: %v", err)
		}
		ec.log(fmt.Sprintf("Output saved to %s", path))
	}
	return success(content)
}

// SystemExecutor emits a fixed authored message with {input} and
// {context} interpolation, useful for injecting instructions between
// agents.
type SystemExecutor struct{}

// Execute implements Executor.
func (e *SystemExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	message := configString(ec.Node, "message")
	if message == "" {
		if v, ok := ec.Node.Inputs["message"].(string); ok {
			message = v
		}
	}
	if message == "" {
		message = ec.Context
	}
	message = strings.ReplaceAll(message, "{input}", ec.Input)
	message = strings.ReplaceAll(message, "{context}", ec.Context)
	return success(message)
}

// A2UIExecutor forwards an authored UI schema to observers.
type A2UIExecutor struct{}

// Execute implements Executor.
func (e *A2UIExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	schema, ok := ec.Node.ProviderConfig["schema"]
	if !ok {
		return failure("a2ui node %q has no schema configured", ec.Node.Name)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return failure("encode a2ui schema: %v", err)
	}
	res := success("UI schema dispatched")
	res.UIEvent = raw
	return res
}

// IntegrationStub stands in for integration kinds whose real
// executors live outside the core. A configured mock_response lets
// workflows exercise the surrounding graph without the integration.
type IntegrationStub struct {
	Kind workflow.Kind
}

// Execute implements Executor.
func (e *IntegrationStub) Execute(_ context.Context, ec *ExecContext) Result {
	if mock := configString(ec.Node, "mock_response"); mock != "" {
		return success(mock)
	}
	return failure("node kind %q requires an external integration that is not configured", e.Kind)
}
