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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowmesh/services/conductor/blackboard"
	"github.com/AleutianAI/flowmesh/services/conductor/memory"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

func newExecContext(t *testing.T, node *workflow.Node) *ExecContext {
	t.Helper()
	return &ExecContext{
		Node:       node,
		BaseDir:    t.TempDir(),
		Blackboard: blackboard.New(nil),
		Timestamp:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegistryCoversEveryKind(t *testing.T) {
	r := NewRegistry()

	for _, kind := range []workflow.Kind{
		workflow.KindAgent, workflow.KindAuditor, workflow.KindRouter,
		workflow.KindDirector, workflow.KindCharacter, workflow.KindCritic,
		workflow.KindArchitect, workflow.KindOptimizer,
		workflow.KindInput, workflow.KindOutput, workflow.KindSystem,
		workflow.KindScript, workflow.KindMemory, workflow.KindHTTP,
		workflow.KindOpenAPI, workflow.KindShell, workflow.KindA2UI,
		workflow.KindRAG, workflow.KindGitHub, workflow.KindMCP,
	} {
		exec, err := r.New(kind)
		require.NoError(t, err, "kind %s", kind)
		require.NotNil(t, exec)
	}

	_, err := r.New(workflow.Kind("hologram"))
	assert.Error(t, err)
}

func TestRegistryRuntimeRegistration(t *testing.T) {
	r := NewRegistry()
	custom := workflow.Kind("weather")
	r.Register(custom, func() Executor { return &SystemExecutor{} })

	exec, err := r.New(custom)
	require.NoError(t, err)
	assert.IsType(t, &SystemExecutor{}, exec)
	assert.Contains(t, r.Kinds(), custom)
}

func TestInputExecutorPassesInputThrough(t *testing.T) {
	node := workflow.NewNode("Start", workflow.KindInput)
	ec := newExecContext(t, node)
	ec.Input = "write a haiku"

	res := (&InputExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "write a haiku", res.Output)
}

func TestOutputExecutorWritesFile(t *testing.T) {
	node := workflow.NewNode("Final", workflow.KindOutput)
	ec := newExecContext(t, node)
	ec.Context = "the finished draft"

	res := (&OutputExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "the finished draft", res.Output)

	entries, err := os.ReadDir(ec.BaseDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "output_"+node.ID))

	data, err := os.ReadFile(filepath.Join(ec.BaseDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "the finished draft", string(data))
}

func TestOutputExecutorHonorsSavePath(t *testing.T) {
	node := workflow.NewNode("Final", workflow.KindOutput)
	ec := newExecContext(t, node)
	node.SavePath = filepath.Join(ec.BaseDir, "nested", "result.md")
	ec.Context = "content"

	res := (&OutputExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)

	data, err := os.ReadFile(node.SavePath)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestSystemExecutorInterpolates(t *testing.T) {
	node := workflow.NewNode("Notice", workflow.KindSystem)
	node.ProviderConfig = map[string]any{"message": "Task: {input} | Prior: {context}"}
	ec := newExecContext(t, node)
	ec.Input = "refactor"
	ec.Context = "module compiles"

	res := (&SystemExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "Task: refactor | Prior: module compiles", res.Output)
}

func TestA2UIExecutorEmitsSchema(t *testing.T) {
	node := workflow.NewNode("Panel", workflow.KindA2UI)
	node.ProviderConfig = map[string]any{
		"schema": map[string]any{"component": "form", "fields": []any{"name"}},
	}
	ec := newExecContext(t, node)

	res := (&A2UIExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Contains(t, string(res.UIEvent), `"component":"form"`)
}

func TestIntegrationStubMockResponse(t *testing.T) {
	node := workflow.NewNode("Repo", workflow.KindGitHub)
	node.ProviderConfig = map[string]any{"mock_response": "3 open issues"}
	ec := newExecContext(t, node)

	res := (&IntegrationStub{Kind: workflow.KindGitHub}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "3 open issues", res.Output)
}

func TestIntegrationStubWithoutMockFails(t *testing.T) {
	node := workflow.NewNode("Repo", workflow.KindNotion)
	ec := newExecContext(t, node)

	res := (&IntegrationStub{Kind: workflow.KindNotion}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "external integration")
}

func TestScriptExecutorEvaluates(t *testing.T) {
	node := workflow.NewNode("Shape", workflow.KindScript)
	node.ScriptCode = `upper(input) + " / " + context`
	ec := newExecContext(t, node)
	ec.Input = "hello"
	ec.Context = "world"

	res := (&ScriptExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "HELLO / world", res.Output)
}

func TestScriptExecutorReadsBlackboard(t *testing.T) {
	node := workflow.NewNode("Shape", workflow.KindScript)
	node.ScriptCode = `blackboard["phase"]`
	ec := newExecContext(t, node)
	ec.Blackboard.Set("phase", "review")

	res := (&ScriptExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "review", res.Output)
}

func TestScriptExecutorCompileError(t *testing.T) {
	node := workflow.NewNode("Broken", workflow.KindScript)
	node.ScriptCode = `input +`
	ec := newExecContext(t, node)

	res := (&ScriptExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "compile script")
}

func TestShellExecutorRunsCommand(t *testing.T) {
	node := workflow.NewNode("Build", workflow.KindShell)
	node.ScriptCode = "echo {input}"

	var gotCommand, gotDir string
	exec := &ShellExecutor{Run: func(_ context.Context, command, dir string) (string, error) {
		gotCommand, gotDir = command, dir
		return "done", nil
	}}

	ec := newExecContext(t, node)
	ec.Input = "release"
	res := exec.Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "echo release", gotCommand)
	assert.Equal(t, ec.BaseDir, gotDir)
}

func TestShellExecutorBlocksDangerousCommand(t *testing.T) {
	for _, cmd := range []string{
		"rm -rf / --no-preserve-root",
		"chmod 777 /",
		"chmod -R 777 /tmp && true",
	} {
		node := workflow.NewNode("Bad", workflow.KindShell)
		node.ScriptCode = cmd

		called := false
		exec := &ShellExecutor{Run: func(_ context.Context, _, _ string) (string, error) {
			called = true
			return "", nil
		}}

		res := exec.Execute(context.Background(), newExecContext(t, node))
		require.False(t, res.OK, "expected block for %q", cmd)
		assert.Contains(t, res.Err, "dangerous")
		assert.False(t, called)
	}
}

func TestShellExecutorAllowlist(t *testing.T) {
	node := workflow.NewNode("Limited", workflow.KindShell)
	node.ScriptCode = "curl https://example.com"
	node.ProviderConfig = map[string]any{"allowed_commands": []any{"echo", "ls"}}

	exec := &ShellExecutor{Run: func(_ context.Context, _, _ string) (string, error) {
		return "", nil
	}}
	res := exec.Execute(context.Background(), newExecContext(t, node))
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "not in the allowed list")

	node.ScriptCode = "echo safe"
	res = exec.Execute(context.Background(), newExecContext(t, node))
	assert.True(t, res.OK)
}

func TestShellExecutorCommandFailure(t *testing.T) {
	node := workflow.NewNode("Flaky", workflow.KindShell)
	node.ScriptCode = "false"

	exec := &ShellExecutor{Run: func(_ context.Context, _, _ string) (string, error) {
		return "", fmt.Errorf("exit status 1")
	}}
	res := exec.Execute(context.Background(), newExecContext(t, node))
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "command failed")
}

func TestMemoryExecutorStoreAndRetrieve(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory_store.json"))
	require.NoError(t, err)

	storeNode := workflow.NewNode("Remember", workflow.KindMemory)
	storeNode.MemoryConfig = map[string]any{
		"operation": "store",
		"tags":      []any{"deployment"},
	}
	ec := newExecContext(t, storeNode)
	ec.Memory = store
	ec.Context = "The deployment pipeline uses blue-green rollout on the staging cluster"

	res := (&MemoryExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Contains(t, res.Output, "Memory stored successfully. ID: ")
	assert.Equal(t, 1, store.Len())

	queryNode := workflow.NewNode("Recall", workflow.KindMemory)
	queryNode.MemoryConfig = map[string]any{"operation": "retrieve"}
	qec := newExecContext(t, queryNode)
	qec.Memory = store
	qec.Input = "how does the deployment pipeline roll out"

	res = (&MemoryExecutor{}).Execute(context.Background(), qec)
	require.True(t, res.OK, res.Err)
	assert.Contains(t, res.Output, "## Retrieved Memories:")
	assert.Contains(t, res.Output, "blue-green")
}

func TestMemoryExecutorNoMatches(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory_store.json"))
	require.NoError(t, err)

	node := workflow.NewNode("Recall", workflow.KindMemory)
	node.MemoryConfig = map[string]any{"operation": "retrieve"}
	ec := newExecContext(t, node)
	ec.Memory = store
	ec.Input = "anything"

	res := (&MemoryExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "No relevant memories found.", res.Output)
}

func TestMemoryExecutorUnknownOperation(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory_store.json"))
	require.NoError(t, err)

	node := workflow.NewNode("Oops", workflow.KindMemory)
	node.MemoryConfig = map[string]any{"operation": "compress"}
	ec := newExecContext(t, node)
	ec.Memory = store

	res := (&MemoryExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "unknown memory operation")
}

func TestHTTPExecutorBlocksPrivateTarget(t *testing.T) {
	node := workflow.NewNode("Fetch", workflow.KindHTTP)
	node.ProviderConfig = map[string]any{"url": "http://169.254.169.254/latest/meta-data"}
	ec := newExecContext(t, node)

	var logged []string
	ec.EmitLog = func(_, message string) { logged = append(logged, message) }

	res := (&HTTPExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "blocked url")
	require.NotEmpty(t, logged)
	assert.Contains(t, logged[0], "Security block")
}

func TestHTTPExecutorBlocksNonHTTPScheme(t *testing.T) {
	node := workflow.NewNode("Fetch", workflow.KindHTTP)
	node.ProviderConfig = map[string]any{"url": "file:///etc/passwd"}

	res := (&HTTPExecutor{}).Execute(context.Background(), newExecContext(t, node))
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "blocked url")
}

func TestHTTPExecutorPerformsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.Equal(t, "searchterm", r.URL.Query().Get("q"))
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	node := workflow.NewNode("Fetch", workflow.KindHTTP)
	node.ProviderConfig = map[string]any{
		"url":     server.URL + "/v1/search?q={input}",
		"method":  "POST",
		"body":    `{"query": "{input}"}`,
		"headers": map[string]any{"Authorization": "Bearer token123"},
	}
	ec := newExecContext(t, node)
	ec.Input = "searchterm"

	// httptest binds to 127.0.0.1, which the outbound policy blocks.
	// Route through a client dialer instead of weakening the policy:
	// rewrite the loopback URL host to an allowed placeholder.
	node.ProviderConfig["url"] = strings.Replace(
		node.ProviderConfig["url"].(string), server.URL, "http://api.example.com", 1)
	exec := &HTTPExecutor{Client: rewriteClient(server.URL)}

	res := exec.Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, `{"ok": true}`, res.Output)
	assert.Equal(t, 200, res.Data["status_code"])
}

func TestHTTPExecutorErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	node := workflow.NewNode("Fetch", workflow.KindHTTP)
	node.ProviderConfig = map[string]any{"url": "http://api.example.com/secret"}
	exec := &HTTPExecutor{Client: rewriteClient(server.URL)}

	res := exec.Execute(context.Background(), newExecContext(t, node))
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "status 403")
}

func TestOpenAPIExecutorBuildsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/items/widget", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"id": 1}]`)
	}))
	defer server.Close()

	t.Setenv("WIDGETS_API_KEY", "secret-key")

	node := workflow.NewNode("Catalog", workflow.KindOpenAPI)
	node.ProviderConfig = map[string]any{
		"base_url":    "http://api.example.com/v2",
		"path":        "/items/{input}",
		"api_key_env": "WIDGETS_API_KEY",
	}
	node.Inputs = map[string]any{"limit": 10}

	ec := newExecContext(t, node)
	ec.Input = "widget"
	exec := &OpenAPIExecutor{Client: rewriteClient(server.URL)}

	res := exec.Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, `[{"id": 1}]`, res.Output)
}

func TestOpenAPIExecutorMissingKeyEnv(t *testing.T) {
	node := workflow.NewNode("Catalog", workflow.KindOpenAPI)
	node.ProviderConfig = map[string]any{
		"base_url":    "http://api.example.com",
		"path":        "/items",
		"api_key_env": "DEFINITELY_NOT_SET_ANYWHERE",
	}

	res := (&OpenAPIExecutor{}).Execute(context.Background(), newExecContext(t, node))
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "DEFINITELY_NOT_SET_ANYWHERE")
}

// rewriteClient returns a client that redirects every request to the
// test server regardless of the request host.
func rewriteClient(target string) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			rewritten := target + req.URL.RequestURI()
			redirected, err := http.NewRequest(req.Method, rewritten, req.Body)
			if err != nil {
				return nil, err
			}
			redirected.Header = req.Header
			return http.DefaultTransport.RoundTrip(redirected)
		}),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
