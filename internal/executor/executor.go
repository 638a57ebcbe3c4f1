// Package executor runs declarative workflow steps against sandboxes.
// A step is a typed descriptor plus a loosely-typed input map, the shape
// produced by plan interpreters and tool-call layers upstream.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/sandbox"
)

// Step types understood by the executor.
const (
	StepShellCommand  = "shell_command"
	StepFileOperation = "file_operation"
)

// Step is one unit of work to run inside a sandbox.
type Step struct {
	Type  string         `json:"type"`
	Input map[string]any `json:"input"`
}

// Executor dispatches steps to sandbox operations. Unknown sandbox ids
// are created on demand so that step sequences can be replayed against
// a fresh manager.
type Executor struct {
	manager *sandbox.Manager
	logger  *logging.Logger
}

// New creates an executor over a sandbox manager.
func New(manager *sandbox.Manager, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		manager: manager,
		logger:  logger.Named("executor"),
	}
}

// Execute runs one step and returns its result as a loosely-typed map.
func (e *Executor) Execute(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Type {
	case StepShellCommand:
		return e.executeShellCommand(ctx, step.Input)
	case StepFileOperation:
		return e.executeFileOperation(step.Input)
	default:
		return nil, fmt.Errorf("unknown step type: %q", step.Type)
	}
}

// resolveSandbox fetches the step's sandbox, creating it when missing.
// An absent sandbox_id falls back to a shared default.
func (e *Executor) resolveSandbox(input map[string]any) (*sandbox.Sandbox, error) {
	id := stringField(input, "sandbox_id")
	if id == "" {
		id = "default"
	}

	if sb, ok := e.manager.Get(id); ok {
		return sb, nil
	}

	sb, err := e.manager.Create(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox %s for step: %w", id, err)
	}
	return sb, nil
}

func (e *Executor) executeShellCommand(ctx context.Context, input map[string]any) (map[string]any, error) {
	command := stringField(input, "command")
	if command == "" {
		return nil, fmt.Errorf("shell_command step requires a command")
	}

	sb, err := e.resolveSandbox(input)
	if err != nil {
		return nil, err
	}

	workdir := stringField(input, "working_dir")

	e.logger.Info("executing command",
		zap.String("sandbox_id", sb.ID()),
		zap.String("command", command))

	result, err := sb.ExecuteCommand(ctx, command, workdir)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sandbox_id": sb.ID(),
		"command":    result.Command,
		"output":     result.Output,
		"exit_code":  result.ExitCode,
	}, nil
}

func (e *Executor) executeFileOperation(input map[string]any) (map[string]any, error) {
	operation := stringField(input, "operation")
	path := stringField(input, "path")

	if operation == "" {
		return nil, fmt.Errorf("file_operation step requires an operation")
	}
	if path == "" && operation != "list" {
		return nil, fmt.Errorf("file_operation step requires a path")
	}

	sb, err := e.resolveSandbox(input)
	if err != nil {
		return nil, err
	}

	e.logger.Info("executing file operation",
		zap.String("sandbox_id", sb.ID()),
		zap.String("operation", operation),
		zap.String("path", path))

	base := map[string]any{
		"sandbox_id": sb.ID(),
		"operation":  operation,
		"path":       path,
	}

	switch operation {
	case "read":
		content, err := sb.ReadFile(path)
		if err != nil {
			return nil, err
		}
		base["content"] = content

	case "write":
		if err := sb.WriteFile(path, stringField(input, "content"), false); err != nil {
			return nil, err
		}
		base["written"] = true

	case "append":
		if err := sb.WriteFile(path, stringField(input, "content"), true); err != nil {
			return nil, err
		}
		base["written"] = true

	case "delete":
		if err := sb.DeleteFile(path); err != nil {
			return nil, err
		}
		base["deleted"] = true

	case "exists":
		base["exists"] = sb.FileExists(path)

	case "info":
		info, err := sb.GetFileInfo(path)
		if err != nil {
			return nil, err
		}
		base["info"] = info

	case "list":
		infos, err := sb.ListFiles(path)
		if err != nil {
			return nil, err
		}
		base["entries"] = infos

	default:
		return nil, fmt.Errorf("unknown file operation: %q", operation)
	}

	return base, nil
}

func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	s, _ := input[key].(string)
	return s
}
