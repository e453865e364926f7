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
	"os/exec"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// ScriptExecutor evaluates the node's script_code as a sandboxed
// expression over {input, context, blackboard}. Expressions cannot
// reach the filesystem or the network, which keeps authored logic
// confined to data shaping and routing decisions.
type ScriptExecutor struct{}

// Execute implements Executor.
func (e *ScriptExecutor) Execute(_ context.Context, ec *ExecContext) Result {
	code := ec.Node.ScriptCode
	if code == "" {
		code = configString(ec.Node, "code")
	}
	if code == "" {
		return failure("script node %q has no code", ec.Node.Name)
	}

	env := map[string]any{
		"input":   ec.Input,
		"context": ec.Context,
	}
	if ec.Blackboard != nil {
		env["blackboard"] = ec.Blackboard.Snapshot()
	} else {
		env["blackboard"] = map[string]any{}
	}

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return failure("compile script: %v", err)
	}
	value, err := expr.Run(program, env)
	if err != nil {
		return failure("run script: %v", err)
	}
	return success(fmt.Sprint(value))
}

// Shell limits.
const (
	maxShellOutput      = 1 << 20
	defaultShellTimeout = 60 * time.Second
)

// blockedShellFragments mirrors the tool processor's destructive
// command blocklist.
var blockedShellFragments = []string{
	"rm -rf /",
	"mkfs",
	"dd if=/dev/",
	":(){",
	"chmod 777 /",
	"chmod -r 777 /",
}

// ShellExecutor runs one authored shell command inside the session
// base directory. An optional allowed_commands list in
// provider_config restricts which binaries may be invoked.
type ShellExecutor struct {
	// Run overrides command execution (used by tests).
	Run func(ctx context.Context, command, dir string) (string, error)
}

// Execute implements Executor.
func (e *ShellExecutor) Execute(ctx context.Context, ec *ExecContext) Result {
	command := ec.Node.ScriptCode
	if command == "" {
		command = configString(ec.Node, "command")
	}
	if command == "" {
		return failure("shell node %q has no command", ec.Node.Name)
	}
	command = strings.ReplaceAll(command, "{input}", ec.Input)

	lowered := strings.ToLower(command)
	for _, fragment := range blockedShellFragments {
		if strings.Contains(lowered, fragment) {
			ec.log(fmt.Sprintf("Security block: dangerous command %.50q", command))
			return failure("blocked dangerous command")
		}
	}

	if allowed, ok := ec.Node.ProviderConfig["allowed_commands"].([]any); ok {
		binary := strings.Fields(command)[0]
		permitted := false
		for _, a := range allowed {
			if s, ok := a.(string); ok && s == binary {
				permitted = true
				break
			}
		}
		if !permitted {
			return failure("command %q is not in the allowed list", binary)
		}
	}

	timeout := defaultShellTimeout
	if v, ok := ec.Node.ProviderConfig["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := e.Run
	if run == nil {
		run = runShellCommand
	}
	out, err := run(ctx, command, ec.BaseDir)
	if err != nil {
		return failure("command failed: %v", err)
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput]
	}
	ec.log(fmt.Sprintf("Executed: %s", preview(command, 80)))
	return success(out)
}

func runShellCommand(ctx context.Context, command, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out")
	}
	if err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
