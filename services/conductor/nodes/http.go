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
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/flowmesh/pkg/security"
)

const (
	// maxHTTPResponse caps what an http node will read back.
	maxHTTPResponse = 10 << 20

	defaultHTTPTimeout = 30 * time.Second
)

// outboundLimiter caps outbound requests per host across every http
// and openapi node in the process.
var outboundLimiter = security.NewRateLimiter(60, time.Minute)

// HTTPExecutor performs one outbound HTTP request described by the
// node's provider_config: url, method, headers, body, and
// timeout_seconds. {input} and {context} placeholders interpolate
// into the URL (escaped) and the body (verbatim).
type HTTPExecutor struct {
	// Client overrides the HTTP client (used by tests).
	Client *http.Client
}

// Execute implements Executor. The SSRF policy runs before any
// network traffic; a blocked URL fails the node without a request.
func (e *HTTPExecutor) Execute(ctx context.Context, ec *ExecContext) Result {
	node := ec.Node

	rawURL := configString(node, "url")
	if rawURL == "" {
		return failure("http node %q has no url configured", node.Name)
	}
	rawURL = strings.ReplaceAll(rawURL, "{input}", url.QueryEscape(ec.Input))
	rawURL = strings.ReplaceAll(rawURL, "{context}", url.QueryEscape(ec.Context))

	if err := security.ValidateOutboundURL(rawURL); err != nil {
		ec.log(fmt.Sprintf("Security block: %v", err))
		return failure("blocked url: %v", err)
	}

	method := strings.ToUpper(configString(node, "method"))
	if method == "" {
		method = http.MethodGet
	}

	body := configString(node, "body")
	body = strings.ReplaceAll(body, "{input}", ec.Input)
	body = strings.ReplaceAll(body, "{context}", ec.Context)

	timeout := defaultHTTPTimeout
	if v, ok := node.ProviderConfig["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(body))
	if err != nil {
		return failure("build request: %v", err)
	}
	if !outboundLimiter.Allow(req.URL.Host) {
		return failure("rate limit exceeded for host %s", req.URL.Host)
	}
	if headers, ok := node.ProviderConfig["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if req.Header.Get("Content-Type") == "" && body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	status, respBody, err := e.do(req, timeout)
	if err != nil {
		return failure("http request failed: %v", err)
	}

	ec.log(fmt.Sprintf("%s %s -> %d (%d bytes)", method, req.URL.Host, status, len(respBody)))
	res := success(respBody)
	res.Data = map[string]any{"status_code": status}
	if status >= 400 {
		return failure("http request returned status %d: %s", status, preview(respBody, 500))
	}
	return res
}

func (e *HTTPExecutor) do(req *http.Request, timeout time.Duration) (int, string, error) {
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponse))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// OpenAPIExecutor calls one operation of a REST API described in
// provider_config: base_url, path, method, and an optional
// api_key_env whose value is sent as a bearer token. Query
// parameters come from the node's static inputs.
type OpenAPIExecutor struct {
	Client *http.Client
}

// Execute implements Executor.
func (e *OpenAPIExecutor) Execute(ctx context.Context, ec *ExecContext) Result {
	node := ec.Node

	baseURL := configString(node, "base_url")
	opPath := configString(node, "path")
	if baseURL == "" || opPath == "" {
		return failure("openapi node %q needs base_url and path", node.Name)
	}

	opPath = strings.ReplaceAll(opPath, "{input}", url.PathEscape(ec.Input))
	full := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(opPath, "/")

	if err := security.ValidateOutboundURL(full); err != nil {
		ec.log(fmt.Sprintf("Security block: %v", err))
		return failure("blocked url: %v", err)
	}

	method := strings.ToUpper(configString(node, "method"))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, full, nil)
	if err != nil {
		return failure("build request: %v", err)
	}

	if !outboundLimiter.Allow(req.URL.Host) {
		return failure("rate limit exceeded for host %s", req.URL.Host)
	}

	query := req.URL.Query()
	for k, v := range node.Inputs {
		query.Set(k, fmt.Sprint(v))
	}
	req.URL.RawQuery = query.Encode()

	if envName := configString(node, "api_key_env"); envName != "" {
		key := os.Getenv(envName)
		if key == "" {
			return failure("environment variable %s not set", envName)
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Accept", "application/json")

	httpExec := &HTTPExecutor{Client: e.Client}
	status, body, err := httpExec.do(req, defaultHTTPTimeout)
	if err != nil {
		return failure("openapi request failed: %v", err)
	}
	if status >= 400 {
		return failure("openapi operation returned status %d: %s", status, preview(body, 500))
	}

	res := success(body)
	res.Data = map[string]any{"status_code": status}
	return res
}
