package cmdrunner

import (
	"context"
	"os"

	"github.com/CloudNativeWorks/ilog/pkg/logger"
)

type CommandRunner interface {
	RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error)
	StartDetached(cmd string, args []string, extraFiles []*os.File) (Detached, error)
}

// Detached is a started child that is not waited on by default.
type Detached interface {
	Pid() int
	// Kill terminates and reaps the child.
	Kill() error
	// Release lets the child outlive this process.
	Release() error
}

type CommandsRunner struct {
	logger *logger.Logger
}

func NewCommandsRunner() *CommandsRunner {
	return &CommandsRunner{logger: logger.NewLogger("command_runner")}
}
