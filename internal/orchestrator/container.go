// Package orchestrator implements the Session Orchestrator (C12): the
// top-level coordinator that builds the terminal layout, spawns the
// lab container, starts the Event Hub, Heartbeat, and Check Scheduler,
// and owns teardown.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/labtty/runtime/internal/config"
)

// Container wraps the isolated shell container a lab session runs
// inside: one testcontainers-go container, started detached, execed
// into for check scripts and the student's interactive shell. Grounded
// on the teacher's tests/common/containers.go Env.StartIter/Exec
// pattern, adapted from a throwaway test fixture into a long-lived,
// session-owned handle.
type Container struct {
	cfg       config.ContainerConfig
	container testcontainers.Container
	id        string
}

// StartContainer starts the lab container from cfg.Image detached, per
// the precondition gate (spec §4.10 step 1). It does not build an
// image; a missing image is pulled by testcontainers-go. The
// container is given a session-scoped name so that concurrent sessions
// on the same host never collide.
func StartContainer(ctx context.Context, cfg config.ContainerConfig) (*Container, error) {
	req := testcontainers.ContainerRequest{
		Image: cfg.Image,
		Name:  fmt.Sprintf("lab-session-%s", uuid.NewString()),
		Cmd:   []string{"tail", "-f", "/dev/null"},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	id := c.GetContainerID()
	return &Container{cfg: cfg, container: c, id: id}, nil
}

// ID returns the container's handle, persisted to container.id (spec
// §6 filesystem layout).
func (c *Container) ID() string { return c.id }

// Healthcheck runs cmd inside the container and requires it to succeed
// within cfg.HealthcheckTimeout (spec §4.10 step 1: "run a healthcheck
// (files exist, commands succeed) within a bounded timeout").
func (c *Container) Healthcheck(ctx context.Context, cmd []string) error {
	timeout := time.Duration(c.cfg.HealthcheckTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	strategy := wait.ForExec(cmd).WithStartupTimeout(timeout)
	return strategy.WaitUntilReady(ctx, c.container)
}

// Exec runs cmd inside the container with a bounded timeout (spec §5:
// "every external call... has a timeout; defaults: exec 5s"), returning
// its exit code and combined output. It satisfies scheduler.Runner so
// the Check Scheduler can invoke check scripts inside the container
// instead of on the host.
func (c *Container) Exec(ctx context.Context, cmd []string) (int, []byte, error) {
	execTimeout := time.Duration(c.cfg.ExecTimeout) * time.Second
	if execTimeout <= 0 {
		execTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	exitCode, reader, err := c.container.Exec(ctx, cmd)
	if err != nil {
		return -1, nil, err
	}
	output, _ := io.ReadAll(reader)
	return exitCode, output, nil
}

// Terminate stops and removes the container. Safe to call on an
// already-terminated container.
func (c *Container) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}

// ContainerCheckRunner adapts a Container's Exec to scheduler.Runner,
// resolving a check script's relative path against the container's own
// checks directory (the module's checks/ is bind-mounted or copied
// into the container at a fixed path by the image build pipeline,
// out of scope here, §1). A host path never resolves inside the
// container, so RunCheck always joins against ChecksPath itself rather
// than trusting a caller-supplied path.
type ContainerCheckRunner struct {
	Container  *Container
	ChecksPath string // directory inside the container holding checks/
}

// RunCheck joins scriptRef against ChecksPath and executes the result
// inside the container.
func (r ContainerCheckRunner) RunCheck(ctx context.Context, scriptRef string) (int, []byte, error) {
	return r.Container.Exec(ctx, []string{path.Join(r.ChecksPath, scriptRef)})
}
