// Package sandbox invokes the isolated JS/TS executor. The core talks a
// framed JSON-over-stdio protocol to a collaborating runtime; the
// isolation guarantees (no network, read-only rootfs, dropped
// capabilities, non-root uid, resource limits) live in the runtime, and
// the core-side checks here are a pre-flight, not the security boundary.
package sandbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
)

// Supported snippet languages.
const (
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
)

// Request is the single JSON object written to the executor's stdin.
type Request struct {
	Code      string                 `json:"code"`
	Language  string                 `json:"language"`
	TimeoutMs int                    `json:"timeoutMs"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Response is the single JSON object the executor emits on stdout.
type Response struct {
	Success         bool        `json:"success"`
	Output          interface{} `json:"output,omitempty"`
	Logs            []string    `json:"logs,omitempty"`
	ExecutionTimeMs int64       `json:"executionTimeMs"`
	Error           string      `json:"error,omitempty"`
	Timeout         bool        `json:"timeout"`
}

// Runner is one executor backend.
type Runner interface {
	Name() string
	Run(ctx context.Context, req Request) (*Response, error)
}

// Executor validates requests and hands them to the configured runner.
type Executor struct {
	runner Runner
	cfg    config.SandboxConfig
	logger *logger.Logger
}

// NewExecutor creates an executor over the given runner.
func NewExecutor(runner Runner, cfg config.SandboxConfig, log *logger.Logger) *Executor {
	return &Executor{runner: runner, cfg: cfg, logger: log}
}

// Execute runs one snippet. Requests with no code or an unknown language
// are rejected before the runner is invoked.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Code == "" {
		return nil, apperrors.InvalidRequest("code is required")
	}
	switch req.Language {
	case LanguageJavaScript, LanguageTypeScript:
	case "":
		req.Language = LanguageJavaScript
	default:
		return nil, apperrors.InvalidRequest("language must be javascript or typescript")
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = e.cfg.TimeoutMs
	}

	resp, err := e.runner.Run(ctx, req)
	if err != nil {
		e.logger.WithError(err).Warn("Sandbox execution failed",
			zap.String("runner", e.runner.Name()),
			zap.String("language", req.Language))
		return nil, err
	}

	e.logger.Debug("Sandbox execution complete",
		zap.String("runner", e.runner.Name()),
		zap.Bool("success", resp.Success),
		zap.Bool("timeout", resp.Timeout),
		zap.Int64("execution_time_ms", resp.ExecutionTimeMs))
	return resp, nil
}
