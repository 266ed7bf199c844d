package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultShellTimeout = 120 * time.Second

// Approver decides whether a shell command may run. Nil means always allowed.
type Approver func(command string) bool

// ShellTool runs shell commands in the workspace, optionally routed into a
// docker container.
type ShellTool struct {
	WorkingDir  string
	ContainerID string
	Timeout     time.Duration
	Approve     Approver
}

// Name implements Tool.
func (t *ShellTool) Name() string { return "shell" }

// Description implements Tool.
func (t *ShellTool) Description() string {
	return "Execute a shell command in the workspace and return its output."
}

// InputSchema implements Tool.
func (t *ShellTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute.",
			},
		},
		"required": []interface{}{"command"},
	}
}

// Invoke implements Tool. Command failures (non-zero exit, timeout, denied
// approval) are reported through the Result so the model can react to them.
func (t *ShellTool) Invoke(ctx context.Context, input map[string]interface{}) (Result, error) {
	command, _ := input["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Error: "command is required"}, nil
	}

	if t.Approve != nil && !t.Approve(command) {
		return Result{Error: "command was not approved by the user"}, nil
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if t.ContainerID != "" {
		cmd = exec.CommandContext(execCtx, "docker", "exec", t.ContainerID, "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
		cmd.Dir = t.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	output := map[string]interface{}{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"duration": time.Since(start).Milliseconds(),
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{Error: fmt.Sprintf("command timed out after %s", timeout)}, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			output["exit_code"] = exitErr.ExitCode()
			return Result{Output: output, Error: fmt.Sprintf("command exited with code %d", exitErr.ExitCode())}, nil
		}
		return Result{Error: fmt.Sprintf("failed to run command: %v", err)}, nil
	}

	output["exit_code"] = 0
	return Result{Output: output}, nil
}

// WriteFileTool writes files inside the workspace root.
type WriteFileTool struct {
	Root string
}

// Name implements Tool.
func (t *WriteFileTool) Name() string { return "write_file" }

// Description implements Tool.
func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed."
}

// InputSchema implements Tool.
func (t *WriteFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path relative to the workspace root.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write.",
			},
			"append": map[string]interface{}{
				"type":        "boolean",
				"description": "Append instead of overwrite.",
			},
		},
		"required": []interface{}{"path", "content"},
	}
}

// Invoke implements Tool.
func (t *WriteFileTool) Invoke(_ context.Context, input map[string]interface{}) (Result, error) {
	pathValue, _ := input["path"].(string)
	target, err := resolveInRoot(t.Root, pathValue)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}

	content, _ := input["content"].(string)
	appendMode, _ := input["append"].(bool)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Result{Error: fmt.Sprintf("failed to create directory: %v", err)}, nil
	}

	flag := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	file, err := os.OpenFile(target, flag, 0644)
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to open file: %v", err)}, nil
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return Result{Error: fmt.Sprintf("failed to write file: %v", err)}, nil
	}

	return Result{Output: map[string]interface{}{
		"path":   pathValue,
		"bytes":  float64(len(content)),
		"append": appendMode,
	}}, nil
}

// ThinkTool lets the model record intermediate reasoning without side
// effects. The thought is echoed back as the result.
type ThinkTool struct{}

// Name implements Tool.
func (t *ThinkTool) Name() string { return "think" }

// Description implements Tool.
func (t *ThinkTool) Description() string {
	return "Record a thought while working through a multi-step problem. Has no side effects."
}

// InputSchema implements Tool.
func (t *ThinkTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"thought": map[string]interface{}{
				"type":        "string",
				"description": "The thought to record.",
			},
		},
		"required": []interface{}{"thought"},
	}
}

// Invoke implements Tool.
func (t *ThinkTool) Invoke(_ context.Context, input map[string]interface{}) (Result, error) {
	thought, _ := input["thought"].(string)
	return Result{Output: map[string]interface{}{"thought": thought}}, nil
}

// resolveInRoot resolves a relative path and rejects escapes from the root.
func resolveInRoot(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace root", pathValue)
	}
	return candidate, nil
}
