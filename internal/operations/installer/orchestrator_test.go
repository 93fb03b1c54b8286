package installer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/cmdrunner"
	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess mirrors os.Process: Pid reads -1 once released.
type fakeProcess struct {
	mu       sync.Mutex
	killed   bool
	released bool
}

func (p *fakeProcess) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return -1
	}
	return 4242
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func (p *fakeProcess) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return nil
}

type fakeRunner struct {
	syntaxErr error
	startErr  error
	ack       string
	proc      *fakeProcess
	calls     []string
}

func (r *fakeRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, "run "+cmd+" "+strings.Join(args, " "))
	return nil, r.syntaxErr
}

func (r *fakeRunner) StartDetached(cmd string, args []string, extraFiles []*os.File) (cmdrunner.Detached, error) {
	r.calls = append(r.calls, "start "+cmd+" "+strings.Join(args, " "))
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.ack != "" {
		if _, err := extraFiles[0].WriteString(r.ack); err != nil {
			return nil, err
		}
	}
	r.proc = &fakeProcess{}
	return r.proc, nil
}

type fakeFinder struct{ called bool }

func (f *fakeFinder) FindByName(ctx context.Context, name string) ([]int32, error) {
	f.called = true
	return []int32{101}, nil
}

func newRequest(t *testing.T) *InstallRequest {
	t.Helper()
	tmp := t.TempDir()
	artifact := filepath.Join(tmp, "iLog_update_1760000000.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip"), 0644))

	req, err := NewRequest(testSettings(tmp), "2.3.1", "https://example.com/iLog.zip", artifact)
	require.NoError(t, err)
	return req
}

func TestHandoff_Success(t *testing.T) {
	runner := &fakeRunner{ack: "ready\n"}
	finder := &fakeFinder{}
	o := NewOrchestrator(runner, WithAckTimeout(time.Second), WithInstanceFinder(finder))
	req := newRequest(t)

	h, err := o.Handoff(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.ID, h.ID)
	assert.Equal(t, 4242, h.PID)
	assert.Equal(t, req.ScriptPath, h.ScriptPath)
	assert.True(t, runner.proc.released)
	assert.False(t, runner.proc.killed)
	assert.True(t, finder.called)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "run /bin/sh -n "+req.ScriptPath, runner.calls[0])
	assert.Equal(t, "start /bin/sh "+req.ScriptPath, runner.calls[1])

	info, err := os.Stat(req.ScriptPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.FileExists(t, req.ManifestPath)
}

func TestHandoff_NoDownloadURLNeverSpawns(t *testing.T) {
	runner := &fakeRunner{ack: "ready\n"}
	o := NewOrchestrator(runner)

	req := newRequest(t)
	req.SourceURL = ""

	_, err := o.Handoff(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrNoDownloadURL)
	assert.Empty(t, runner.calls)
	assert.NoFileExists(t, req.ScriptPath)

	_, err = o.Handoff(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrNoDownloadURL)
}

func TestHandoff_SyntaxCheckFails(t *testing.T) {
	runner := &fakeRunner{syntaxErr: errors.New("syntax error near fi")}
	o := NewOrchestrator(runner)
	req := newRequest(t)

	_, err := o.Handoff(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrInstallerSpawn)
	assert.Len(t, runner.calls, 1)
	assert.NoFileExists(t, req.ScriptPath)
	assert.NoFileExists(t, req.ManifestPath)
}

func TestHandoff_StartFails(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("exec format error")}
	o := NewOrchestrator(runner)
	req := newRequest(t)

	_, err := o.Handoff(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrInstallerSpawn)
	assert.NoFileExists(t, req.ScriptPath)
}

func TestHandoff_ExitWithoutAckKillsInstaller(t *testing.T) {
	runner := &fakeRunner{}
	o := NewOrchestrator(runner, WithAckTimeout(time.Second))
	req := newRequest(t)

	_, err := o.Handoff(context.Background(), req)
	require.ErrorIs(t, err, common.ErrInstallerSpawn)
	assert.Contains(t, err.Error(), "exited before acknowledging")
	assert.True(t, runner.proc.killed)
	assert.False(t, runner.proc.released)
}

func TestAwaitAck(t *testing.T) {
	assert.NoError(t, awaitAck(context.Background(), strings.NewReader("ready\n"), time.Second))
	assert.NoError(t, awaitAck(context.Background(), strings.NewReader("ready"), time.Second))
	assert.ErrorContains(t, awaitAck(context.Background(), strings.NewReader(""), time.Second), "exited before")
	assert.ErrorContains(t, awaitAck(context.Background(), strings.NewReader("nope\n"), time.Second), "unexpected")
}

func TestAwaitAck_Timeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	defer pr.Close()

	err := awaitAck(context.Background(), pr, 20*time.Millisecond)
	assert.ErrorContains(t, err, "no acknowledgment")
}

func TestHandoff_RealShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installer scripts need a POSIX shell")
	}
	if _, err := os.Stat(DefaultShell); err != nil {
		t.Skip("no /bin/sh available")
	}

	req := newRequest(t)
	marker := filepath.Join(filepath.Dir(req.ArtifactPath), "installed")
	steps := []Step{
		{Name: "resolve_artifact", Policy: Fatal, Body: resolveArtifact},
		{Name: "acknowledge", Policy: BestEffort, Body: Acknowledge},
		{Name: "mark", Policy: Fatal, Body: "touch '" + marker + "'"},
		{Name: "broken", Policy: BestEffort, Body: "false"},
	}

	o := NewOrchestrator(cmdrunner.NewCommandsRunner(), WithSteps(steps), WithAckTimeout(5*time.Second))
	h, err := o.Handoff(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(req.ScriptPath)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "installer should delete itself")
	assert.FileExists(t, marker)

	logData, err := os.ReadFile(req.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "step acknowledge: ok")
	assert.Contains(t, string(logData), "step broken: failed, continuing")
	assert.Contains(t, string(logData), "update of iLog finished")
}
