// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools extracts tool-call tags from agent output and
// executes them inside a sandboxed base directory.
//
// Tool calls are XML-shaped substrings with a closed grammar, for
// example:
//
//	<write_file path="src/main.py">print("hi")</write_file>
//	<run_command command="pytest" timeout="60"/>
//
// Processing order is fixed so creates precede consumers: writes and
// directory creation run before reads, commands run last. Every path
// is confined to the base directory and every command runs under a
// timeout and a blocklist.
package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/flowmesh/pkg/logging"
	"github.com/AleutianAI/flowmesh/pkg/security"
)

// Tag patterns. Bodies are non-greedy and may span newlines.
var (
	writeFilePattern      = regexp.MustCompile(`(?s)<write_file\s+path=["'](.*?)["']>(.*?)</write_file>`)
	appendFilePattern     = regexp.MustCompile(`(?s)<append_file\s+path=["'](.*?)["']>(.*?)</append_file>`)
	readFilePattern       = regexp.MustCompile(`<read_file\s+path=["'](.*?)["']\s*/>`)
	listDirPattern        = regexp.MustCompile(`<list_dir\s+path=["'](.*?)["']\s*/>`)
	createDirPattern      = regexp.MustCompile(`<create_dir\s+path=["'](.*?)["']\s*/>`)
	deleteFilePattern     = regexp.MustCompile(`<delete_file\s+path=["'](.*?)["']\s*/>`)
	deleteDirPattern      = regexp.MustCompile(`<delete_dir\s+path=["'](.*?)["']\s*/>`)
	copyPattern           = regexp.MustCompile(`<copy\s+path=["'](.*?)["']\s+to=["'](.*?)["']\s*/>`)
	movePattern           = regexp.MustCompile(`<move\s+path=["'](.*?)["']\s+to=["'](.*?)["']\s*/>`)
	scaffoldPattern       = regexp.MustCompile(`<scaffold_project\s+name=["'](.*?)["'](?:\s+template=["'](.*?)["'])?\s*/>`)
	installPackagePattern = regexp.MustCompile(`<install_package\s+name=["'](.*?)["'](?:\s+manager=["'](.*?)["'])?\s*/>`)
	installToolPattern    = regexp.MustCompile(`<install_tool\s+name=["'](.*?)["']\s*/>`)
	runCommandPattern     = regexp.MustCompile(`<run_command\s+command=["'](.*?)["'](?:\s+timeout=["'](\d+)["'])?\s*/>`)
	runBuildPattern       = regexp.MustCompile(`<run_build(?:\s+command=["'](.*?)["'])?\s*/>`)

	openFencePattern  = regexp.MustCompile(`^` + "```" + `\w*\s*\n?`)
	closeFencePattern = regexp.MustCompile(`\n?` + "```" + `\s*$`)
)

// allTagPatterns is every tag grammar, for StripTags.
var allTagPatterns = []*regexp.Regexp{
	writeFilePattern, appendFilePattern, readFilePattern, listDirPattern,
	createDirPattern, deleteFilePattern, deleteDirPattern, copyPattern,
	movePattern, scaffoldPattern, installPackagePattern,
	installToolPattern, runCommandPattern, runBuildPattern,
}

// StripTags removes every tool tag from an output, leaving the prose
// around them.
func StripTags(output string) string {
	for _, pattern := range allTagPatterns {
		output = pattern.ReplaceAllString(output, "")
	}
	return strings.TrimSpace(output)
}

// HasTags reports whether the output contains at least one tool tag.
func HasTags(output string) bool {
	for _, pattern := range allTagPatterns {
		if pattern.MatchString(output) {
			return true
		}
	}
	return false
}

// blockedCommandFragments rejects obviously destructive shell
// commands. Matching is substring on the lowercased command.
var blockedCommandFragments = []string{
	"rm -rf /",
	"mkfs",
	"dd if=/dev/",
	":(){",
	"chmod 777 /",
	"chmod -r 777 /",
}

// Timeouts.
const (
	// DefaultCommandTimeout bounds run_command invocations without
	// an explicit timeout attribute.
	DefaultCommandTimeout = 120 * time.Second

	// installTimeout bounds package and tool installs and builds.
	installTimeout = 300 * time.Second

	// previewLimit caps file previews emitted as thoughts.
	previewLimit = 2000

	// outputLimit caps captured command output.
	outputLimit = 2000
)

// packageManagers maps a manager name to its install command prefix.
var packageManagers = map[string]string{
	"npm":   "npm install",
	"yarn":  "yarn add",
	"pip":   "pip install",
	"pnpm":  "pnpm add",
	"cargo": "cargo add",
	"go":    "go get",
}

// approvedTools is the allowlist for install_tool. Type "system"
// tools cannot be installed by an agent and are reported as manual.
var approvedTools = map[string]struct {
	Type        string
	Package     string
	Description string
}{
	"typescript": {"npm", "typescript", "TypeScript compiler"},
	"vite":       {"npm", "vite", "Fast build tool"},
	"esbuild":    {"npm", "esbuild", "Fast JS bundler"},
	"jest":       {"npm", "jest", "JS testing framework"},
	"eslint":     {"npm", "eslint", "JS linter"},
	"prettier":   {"npm", "prettier", "Code formatter"},
	"pytest":     {"pip", "pytest", "Python testing framework"},
	"black":      {"pip", "black", "Python formatter"},
	"ruff":       {"pip", "ruff", "Python linter"},
	"ffmpeg":     {"system", "ffmpeg", "Media processing"},
}

// Emitter receives progress lines and thought previews during
// processing. The engine bridges these onto the event bus.
type Emitter interface {
	Log(message string)
	Thought(content string)
}

// Runner executes a shell command in dir under a timeout.
//
// Outputs:
//
//	string - Combined stdout (stderr when stdout is empty)
//	error - Timeout, non-zero exit, or spawn failure
type Runner func(ctx context.Context, command, dir string, timeout time.Duration) (string, error)

// Results summarizes the side effects of one processing pass. The
// field names mirror the engine's result contract.
type Results struct {
	FilesCreated      []string `json:"files_created"`
	FilesDeleted      []string `json:"files_deleted"`
	DirsCreated       []string `json:"dirs_created"`
	CommandsRun       []string `json:"commands_run"`
	PackagesInstalled []string `json:"packages_installed"`
	Errors            []string `json:"errors"`
}

// Processor parses and executes tool tags for one node step.
//
// # Thread Safety
//
// A Processor is not safe for concurrent use; create one per node
// step.
type Processor struct {
	baseDir string
	emitter Emitter
	runner  Runner
	logger  *logging.Logger

	results Results
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRunner replaces the shell runner (used by tests).
func WithRunner(r Runner) ProcessorOption {
	return func(p *Processor) { p.runner = r }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a processor rooted at baseDir. The directory
// is created if missing.
func NewProcessor(baseDir string, emitter Emitter, opts ...ProcessorOption) (*Processor, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	p := &Processor{
		baseDir: abs,
		emitter: emitter,
		runner:  runShell,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	return p, nil
}

// ProcessAll extracts and executes every tool tag in output.
//
// Description:
//
//	Tags run in a fixed order so that creates precede consumers:
//	write_file, read_file, list_dir, create_dir, delete_file,
//	delete_dir, append_file, copy, move, scaffold_project,
//	install_package, install_tool, run_command, run_build.
//	Individual failures are recorded in Results.Errors and never
//	abort the pass.
//
// Outputs:
//
//	Results - Counts and names of side effects
func (p *Processor) ProcessAll(ctx context.Context, output string) Results {
	p.results = Results{}

	p.processWriteFile(output)
	p.processReadFile(output)
	p.processListDir(output)
	p.processCreateDir(output)
	p.processDeleteFile(output)
	p.processDeleteDir(output)
	p.processAppendFile(output)
	p.processCopy(output)
	p.processMove(output)
	p.processScaffold(output)
	p.processInstallPackage(ctx, output)
	p.processInstallTool(ctx, output)
	p.processRunCommand(ctx, output)
	p.processRunBuild(ctx, output)

	return p.results
}

// safePath joins path against the base directory and rejects any
// result that escapes it.
func (p *Processor) safePath(path string) (string, error) {
	if err := security.ValidatePathParam(path); err != nil {
		return "", err
	}
	joined := filepath.Clean(filepath.Join(p.baseDir, path))
	if joined != p.baseDir && !strings.HasPrefix(joined, p.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", security.ErrPathTraversal, path)
	}
	return joined, nil
}

// cleanContent strips an enclosing markdown code fence from file
// content.
func cleanContent(content string) string {
	content = openFencePattern.ReplaceAllString(content, "")
	return closeFencePattern.ReplaceAllString(content, "")
}

func (p *Processor) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.results.Errors = append(p.results.Errors, msg)
	p.emitter.Log(msg)
	p.logger.Warn("tool error", "error", msg)
}

func (p *Processor) processWriteFile(output string) {
	for _, m := range writeFilePattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: write_file %q: %v", m[1], err)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			p.fail("write_file %q: %v", m[1], err)
			continue
		}
		if err := os.WriteFile(target, []byte(cleanContent(m[2])), 0640); err != nil {
			p.fail("write_file %q: %v", m[1], err)
			continue
		}
		p.results.FilesCreated = append(p.results.FilesCreated, m[1])
		p.emitter.Log(fmt.Sprintf("Wrote file: %s", m[1]))
	}
}

func (p *Processor) processReadFile(output string) {
	for _, m := range readFilePattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: read_file %q: %v", m[1], err)
			continue
		}
		data, err := os.ReadFile(target)
		if err != nil {
			p.fail("read_file %q: %v", m[1], err)
			continue
		}
		preview := string(data)
		if len(preview) > previewLimit {
			preview = preview[:previewLimit]
		}
		p.emitter.Thought(fmt.Sprintf("### FILE: `%s`\n```\n%s\n```", m[1], preview))
	}
}

func (p *Processor) processListDir(output string) {
	for _, m := range listDirPattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: list_dir %q: %v", m[1], err)
			continue
		}
		entries, err := os.ReadDir(target)
		if err != nil {
			p.fail("list_dir %q: %v", m[1], err)
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		p.emitter.Thought(fmt.Sprintf("### DIR: `%s`\n%s", m[1], strings.Join(names, "\n")))
	}
}

func (p *Processor) processCreateDir(output string) {
	for _, m := range createDirPattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: create_dir %q: %v", m[1], err)
			continue
		}
		if err := os.MkdirAll(target, 0750); err != nil {
			p.fail("create_dir %q: %v", m[1], err)
			continue
		}
		p.results.DirsCreated = append(p.results.DirsCreated, m[1])
		p.emitter.Log(fmt.Sprintf("Created directory: %s", m[1]))
	}
}

func (p *Processor) processDeleteFile(output string) {
	for _, m := range deleteFilePattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: delete_file %q: %v", m[1], err)
			continue
		}
		info, err := os.Stat(target)
		if err != nil || info.IsDir() {
			p.fail("delete_file %q: not a file", m[1])
			continue
		}
		if err := os.Remove(target); err != nil {
			p.fail("delete_file %q: %v", m[1], err)
			continue
		}
		p.results.FilesDeleted = append(p.results.FilesDeleted, m[1])
		p.emitter.Log(fmt.Sprintf("Deleted file: %s", m[1]))
	}
}

func (p *Processor) processDeleteDir(output string) {
	for _, m := range deleteDirPattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: delete_dir %q: %v", m[1], err)
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			p.fail("delete_dir %q: %v", m[1], err)
			continue
		}
		p.results.FilesDeleted = append(p.results.FilesDeleted, m[1]+"/")
		p.emitter.Log(fmt.Sprintf("Deleted directory: %s", m[1]))
	}
}

func (p *Processor) processAppendFile(output string) {
	for _, m := range appendFilePattern.FindAllStringSubmatch(output, -1) {
		target, err := p.safePath(m[1])
		if err != nil {
			p.fail("Security block: append_file %q: %v", m[1], err)
			continue
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			p.fail("append_file %q: %v", m[1], err)
			continue
		}
		_, err = f.WriteString(cleanContent(m[2]) + "\n")
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			p.fail("append_file %q: %v", m[1], err)
			continue
		}
		p.results.FilesCreated = append(p.results.FilesCreated, m[1])
		p.emitter.Log(fmt.Sprintf("Appended to file: %s", m[1]))
	}
}

func (p *Processor) processCopy(output string) {
	for _, m := range copyPattern.FindAllStringSubmatch(output, -1) {
		p.copyOrMove(m[1], m[2], false)
	}
}

func (p *Processor) processMove(output string) {
	for _, m := range movePattern.FindAllStringSubmatch(output, -1) {
		p.copyOrMove(m[1], m[2], true)
	}
}

func (p *Processor) copyOrMove(from, to string, move bool) {
	verb := "copy"
	if move {
		verb = "move"
	}
	src, err := p.safePath(from)
	if err != nil {
		p.fail("Security block: %s %q: %v", verb, from, err)
		return
	}
	dst, err := p.safePath(to)
	if err != nil {
		p.fail("Security block: %s %q: %v", verb, to, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		p.fail("%s %q: %v", verb, to, err)
		return
	}

	done := "Copied"
	if move {
		done = "Moved"
		if err := os.Rename(src, dst); err != nil {
			p.fail("move %q -> %q: %v", from, to, err)
			return
		}
	} else {
		if err := copyTree(src, dst); err != nil {
			p.fail("copy %q -> %q: %v", from, to, err)
			return
		}
	}
	p.results.FilesCreated = append(p.results.FilesCreated, to)
	p.emitter.Log(fmt.Sprintf("%s: %s -> %s", done, from, to))
}

func (p *Processor) processScaffold(output string) {
	for _, m := range scaffoldPattern.FindAllStringSubmatch(output, -1) {
		name, template := m[1], m[2]
		if template == "" {
			template = DefaultTemplate
		}
		created, err := Scaffold(p.baseDir, name, template)
		if err != nil {
			p.fail("scaffold_project %q (%s): %v", name, template, err)
			continue
		}
		p.results.DirsCreated = append(p.results.DirsCreated, name)
		p.results.FilesCreated = append(p.results.FilesCreated, created...)
		p.emitter.Log(fmt.Sprintf("Scaffolded project %s from template %s (%d files)", name, template, len(created)))
	}
}

func (p *Processor) processInstallPackage(ctx context.Context, output string) {
	for _, m := range installPackagePattern.FindAllStringSubmatch(output, -1) {
		pkg, manager := m[1], m[2]
		if manager == "" {
			manager = "npm"
		}
		prefix, ok := packageManagers[manager]
		if !ok {
			p.fail("install_package %q: unapproved manager %q", pkg, manager)
			continue
		}
		p.emitter.Log(fmt.Sprintf("Installing %s via %s", pkg, manager))
		if _, err := p.runner(ctx, prefix+" "+pkg, p.baseDir, installTimeout); err != nil {
			p.fail("install_package %q: %v", pkg, err)
			continue
		}
		p.results.PackagesInstalled = append(p.results.PackagesInstalled, pkg)
		p.emitter.Log(fmt.Sprintf("Installed: %s", pkg))
	}
}

func (p *Processor) processInstallTool(ctx context.Context, output string) {
	for _, m := range installToolPattern.FindAllStringSubmatch(output, -1) {
		name := m[1]
		info, ok := approvedTools[name]
		if !ok {
			p.fail("install_tool %q: not on the approved list", name)
			continue
		}
		if info.Type == "system" {
			p.emitter.Log(fmt.Sprintf("%s requires manual install", name))
			continue
		}
		cmd := packageManagers[info.Type] + " " + info.Package
		p.emitter.Log(fmt.Sprintf("Installing tool %s (%s)", name, info.Description))
		if _, err := p.runner(ctx, cmd, p.baseDir, installTimeout); err != nil {
			p.fail("install_tool %q: %v", name, err)
			continue
		}
		p.results.PackagesInstalled = append(p.results.PackagesInstalled, name)
	}
}

func (p *Processor) processRunCommand(ctx context.Context, output string) {
	for _, m := range runCommandPattern.FindAllStringSubmatch(output, -1) {
		cmd := m[1]
		timeout := DefaultCommandTimeout
		if m[2] != "" {
			if secs, err := strconv.Atoi(m[2]); err == nil && secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
		}
		if blocked(cmd) {
			p.fail("Blocked dangerous command: %.50s", cmd)
			continue
		}

		p.emitter.Log(fmt.Sprintf("Executing: %s", cmd))
		result, err := p.runner(ctx, cmd, p.baseDir, timeout)
		if err != nil {
			p.fail("run_command %q: %v", cmd, err)
			continue
		}
		if result == "" {
			result = "Success (No Output)"
		}
		if len(result) > outputLimit {
			result = result[:outputLimit]
		}
		p.emitter.Thought(fmt.Sprintf("### COMMAND: `%s`\n```\n%s\n```", cmd, result))
		p.results.CommandsRun = append(p.results.CommandsRun, cmd)
	}
}

func (p *Processor) processRunBuild(ctx context.Context, output string) {
	for _, m := range runBuildPattern.FindAllStringSubmatch(output, -1) {
		cmd := m[1]
		if cmd == "" {
			cmd = "npm run build"
		}
		if blocked(cmd) {
			p.fail("Blocked dangerous command: %.50s", cmd)
			continue
		}
		p.emitter.Log(fmt.Sprintf("Running build: %s", cmd))
		if _, err := p.runner(ctx, cmd, p.baseDir, installTimeout); err != nil {
			p.fail("run_build %q: %v", cmd, err)
			continue
		}
		p.results.CommandsRun = append(p.results.CommandsRun, cmd)
		p.emitter.Log("Build complete")
	}
}

// blocked reports whether a command matches the destructive-command
// blocklist.
func blocked(cmd string) bool {
	lowered := strings.ToLower(cmd)
	for _, fragment := range blockedCommandFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// runShell is the default Runner: sh -c under a timeout, child
// killed on expiry.
func runShell(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	stdout, err := cmd.Output()

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("command failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}

	out := strings.TrimSpace(string(stdout))
	return out, nil
}

// copyTree copies a file or directory tree.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, info.Mode().Perm())
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0640)
	})
}
