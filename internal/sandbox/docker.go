package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
)

// DockerRunner runs the executor image in a locked-down container per
// request: no network, read-only rootfs, all capabilities dropped,
// non-root uid, and memory/pids limits from configuration.
type DockerRunner struct {
	cli    *client.Client
	cfg    config.SandboxConfig
	logger *logger.Logger
}

// NewDockerRunner creates a runner against the configured Docker host.
func NewDockerRunner(cfg config.SandboxConfig, log *logger.Logger) (*DockerRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, apperrors.SandboxFailure("failed to create docker client", err)
	}
	log.Info("Sandbox docker runner ready",
		zap.String("host", cfg.DockerHost),
		zap.String("image", cfg.Image))
	return &DockerRunner{cli: cli, cfg: cfg, logger: log}, nil
}

// Name identifies the runner.
func (r *DockerRunner) Name() string { return "docker" }

// Close releases the underlying client.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run executes one request in a fresh container.
func (r *DockerRunner) Run(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.InvalidRequest("failed to encode sandbox request: " + err.Error())
	}

	pidsLimit := int64(r.cfg.PidsLimit)
	containerCfg := &container.Config{
		Image:           r.cfg.Image,
		User:            "65534:65534",
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		Resources: container.Resources{
			Memory:    int64(r.cfg.MemoryLimitMB) << 20,
			PidsLimit: &pidsLimit,
		},
	}

	created, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, apperrors.SandboxFailure("failed to create sandbox container", err)
	}
	containerID := created.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			r.logger.WithError(err).Warn("Failed to remove sandbox container",
				zap.String("container_id", containerID))
		}
	}()

	attach, err := r.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, apperrors.SandboxFailure("failed to attach to sandbox container", err)
	}
	defer attach.Close()

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, apperrors.SandboxFailure("failed to start sandbox container", err)
	}
	start := time.Now()

	if _, err := attach.Conn.Write(payload); err != nil {
		return nil, apperrors.SandboxFailure("failed to write sandbox request", err)
	}
	if err := attach.CloseWrite(); err != nil {
		return nil, apperrors.SandboxFailure("failed to close sandbox stdin", err)
	}

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	waitCh, waitErrCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	backstop := time.Duration(req.TimeoutMs)*time.Millisecond + killGrace

	select {
	case wait := <-waitCh:
		<-copyDone
		return r.decode(int(wait.StatusCode), stdout.Bytes(), stderr.String())
	case err := <-waitErrCh:
		return nil, apperrors.SandboxFailure("sandbox container wait failed", err)
	case <-time.After(backstop):
		if err := r.cli.ContainerKill(context.Background(), containerID, "SIGKILL"); err != nil {
			r.logger.WithError(err).Warn("Failed to kill sandbox container",
				zap.String("container_id", containerID))
		}
		return &Response{
			Success:         false,
			Timeout:         true,
			Error:           "Execution timeout",
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *DockerRunner) decode(exitCode int, stdout []byte, stderr string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, apperrors.SandboxFailure(
			"executor produced malformed output: "+truncate(stderr, 256), err)
	}
	if (exitCode == 0) != resp.Success {
		return nil, apperrors.SandboxFailure(
			fmt.Sprintf("executor exit code %d does not match response", exitCode), nil)
	}
	return &resp, nil
}
