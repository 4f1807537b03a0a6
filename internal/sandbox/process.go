package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
)

// killGrace is how long past the request timeout a hung executor gets
// before the core kills it and synthesizes a timeout response.
const killGrace = 2 * time.Second

// ProcessRunner spawns the executor binary per request and exchanges one
// JSON object each way over stdio. The executor races the snippet
// against timeoutMs itself; the runner only enforces a wall-clock
// backstop for a wedged process.
type ProcessRunner struct {
	command string
	logger  *logger.Logger
}

// NewProcessRunner creates a runner for the given executor command.
func NewProcessRunner(command string, log *logger.Logger) *ProcessRunner {
	return &ProcessRunner{command: command, logger: log}
}

// Name identifies the runner.
func (r *ProcessRunner) Name() string { return "process" }

// Run executes one request.
func (r *ProcessRunner) Run(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to encode sandbox request: " + err.Error())
	}

	deadline := time.Duration(req.TimeoutMs)*time.Millisecond + killGrace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.command)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return &Response{
			Success:         false,
			Timeout:         true,
			Error:           "Execution timeout",
			ExecutionTimeMs: elapsed.Milliseconds(),
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, apperrors.SandboxFailure("executor failed to run", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, apperrors.SandboxFailure(
			"executor produced malformed output: "+truncate(stderr.String(), 256), err)
	}

	// Exit code 0 pairs with success, 1 with failure. Anything else means
	// the executor crashed outside its own error handling.
	if (exitCode == 0) != resp.Success {
		return nil, apperrors.SandboxFailure("executor exit code does not match response", nil)
	}
	return &resp, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
