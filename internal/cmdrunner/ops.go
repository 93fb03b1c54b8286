package cmdrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

func (r *CommandsRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	output, err := c.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Errorf("command failed: %s %v\n%s", cmd, args, string(output))
		return nil, fmt.Errorf("command error: %w\n%s", err, string(output))
	}
	return output, nil
}

// StartDetached starts cmd in its own session with stdio on the null device.
// extraFiles become fd 3 onwards in the child.
func (r *CommandsRunner) StartDetached(cmd string, args []string, extraFiles []*os.File) (Detached, error) {
	c := exec.Command(cmd, args...)
	c.ExtraFiles = extraFiles
	c.SysProcAttr = detachAttr()

	if err := c.Start(); err != nil {
		r.logger.Errorf("failed to start detached command: %s %v: %v", cmd, args, err)
		return nil, fmt.Errorf("start %s: %w", cmd, err)
	}

	r.logger.Debugf("started detached %s %v as pid %d", cmd, args, c.Process.Pid)
	return &detachedProcess{proc: c.Process, pid: c.Process.Pid}, nil
}

// detachedProcess keeps the pid itself; os.Process.Release resets Pid to -1.
type detachedProcess struct {
	proc *os.Process
	pid  int
}

func (d *detachedProcess) Pid() int { return d.pid }

func (d *detachedProcess) Kill() error {
	if err := d.proc.Kill(); err != nil {
		return err
	}
	_, err := d.proc.Wait()
	return err
}

func (d *detachedProcess) Release() error { return d.proc.Release() }
