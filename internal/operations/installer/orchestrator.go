package installer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/cmdrunner"
	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
)

const (
	DefaultShell      = "/bin/sh"
	DefaultAckTimeout = 15 * time.Second
	ackLine           = "ready"
)

// InstanceFinder reports other running processes of the application.
type InstanceFinder interface {
	FindByName(ctx context.Context, name string) ([]int32, error)
}

// Handoff describes a launched installer.
type Handoff struct {
	ID         string
	PID        int
	ScriptPath string
	LogPath    string
}

// Orchestrator writes the installer for a staged artifact, launches it
// detached and waits until it confirms it has taken over.
type Orchestrator struct {
	runner     cmdrunner.CommandRunner
	finder     InstanceFinder
	steps      []Step
	shell      string
	ackTimeout time.Duration
	logger     *logger.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithSteps replaces DefaultSteps.
func WithSteps(steps []Step) OrchestratorOption {
	return func(o *Orchestrator) { o.steps = steps }
}

func WithShell(shell string) OrchestratorOption {
	return func(o *Orchestrator) {
		if shell != "" {
			o.shell = shell
		}
	}
}

func WithAckTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}

// WithInstanceFinder logs running instances before hand-off.
func WithInstanceFinder(f InstanceFinder) OrchestratorOption {
	return func(o *Orchestrator) { o.finder = f }
}

func NewOrchestrator(runner cmdrunner.CommandRunner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner:     runner,
		steps:      DefaultSteps(),
		shell:      DefaultShell,
		ackTimeout: DefaultAckTimeout,
		logger:     logger.NewLogger("installer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handoff launches the installer for req. On success the installer owns the
// artifact and the caller is expected to exit. Errors are of kind
// common.ErrNoDownloadURL, common.ErrFilesystem or common.ErrInstallerSpawn.
func (o *Orchestrator) Handoff(ctx context.Context, req *InstallRequest) (*Handoff, error) {
	if req == nil || req.ArtifactPath == "" || req.SourceURL == "" {
		return nil, common.NewError(common.ErrNoDownloadURL, "hand off install", nil)
	}

	log := o.logger.WithFields(logger.Fields{
		"install_id": req.ID,
		"artifact":   req.ArtifactPath,
		"target":     req.TargetAppPath,
	})

	script, err := Render(req, o.steps)
	if err != nil {
		return nil, common.InstallerSpawnError("render installer", err)
	}

	if err := o.writeFiles(req, script); err != nil {
		return nil, err
	}

	if _, err := o.runner.RunWithOutput(ctx, o.shell, "-n", req.ScriptPath); err != nil {
		o.removeFiles(req)
		return nil, common.InstallerSpawnError("check installer syntax", err)
	}

	o.logInstances(ctx, req.ProcessName)

	ackReader, ackWriter, err := os.Pipe()
	if err != nil {
		o.removeFiles(req)
		return nil, common.InstallerSpawnError("create ack pipe", err)
	}
	defer ackReader.Close()

	child, err := o.runner.StartDetached(o.shell, []string{req.ScriptPath}, []*os.File{ackWriter})
	ackWriter.Close()
	if err != nil {
		o.removeFiles(req)
		return nil, common.InstallerSpawnError("start installer", err)
	}

	pid := child.Pid()
	log.WithField("pid", pid).Info("Installer started, waiting for acknowledgment")

	if err := awaitAck(ctx, ackReader, o.ackTimeout); err != nil {
		log.WithError(err).Error("Installer did not acknowledge, stopping it")
		if killErr := child.Kill(); killErr != nil {
			log.WithError(killErr).Warn("Failed to stop installer")
		}
		o.removeFiles(req)
		return nil, common.InstallerSpawnError("await installer", err)
	}

	if err := child.Release(); err != nil {
		log.WithError(err).Warn("Failed to release installer process")
	}

	log.WithField("log", req.LogPath).Info("Installer acknowledged hand-off")
	return &Handoff{
		ID:         req.ID,
		PID:        pid,
		ScriptPath: req.ScriptPath,
		LogPath:    req.LogPath,
	}, nil
}

func (o *Orchestrator) writeFiles(req *InstallRequest, script string) error {
	dir := filepath.Dir(req.ScriptPath)
	scripts := common.NewPermissionManager(dir, common.DirPerm, common.ScriptPerm, o.logger.Entry())
	if err := scripts.EnsureBaseDirectory(); err != nil {
		return err
	}
	if _, err := scripts.WriteFile(filepath.Base(req.ScriptPath), []byte(script)); err != nil {
		return err
	}

	manifest, err := req.Manifest()
	if err != nil {
		os.Remove(req.ScriptPath)
		return common.FilesystemError("encode install manifest", err)
	}
	manifests := common.NewPermissionManager(filepath.Dir(req.ManifestPath), common.DirPerm, common.ArtifactPerm, o.logger.Entry())
	if _, err := manifests.WriteFile(filepath.Base(req.ManifestPath), manifest); err != nil {
		os.Remove(req.ScriptPath)
		return err
	}
	return nil
}

func (o *Orchestrator) removeFiles(req *InstallRequest) {
	os.Remove(req.ScriptPath)
	os.Remove(req.ManifestPath)
}

func (o *Orchestrator) logInstances(ctx context.Context, name string) {
	if o.finder == nil {
		return
	}
	pids, err := o.finder.FindByName(ctx, name)
	if err != nil {
		o.logger.WithError(err).Debug("Could not list running instances")
		return
	}
	o.logger.WithFields(logger.Fields{
		"process": name,
		"pids":    pids,
	}).Info("Running instances the installer will stop")
}

// awaitAck waits for the ack line on r.
func awaitAck(ctx context.Context, r io.Reader, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		switch {
		case strings.TrimSpace(line) == ackLine:
			result <- nil
		case err == io.EOF || errors.Is(err, os.ErrClosed):
			result <- errors.New("installer exited before acknowledging")
		case err != nil:
			result <- err
		default:
			result <- fmt.Errorf("unexpected acknowledgment %q", strings.TrimSpace(line))
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("no acknowledgment within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
