package procs

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/CloudNativeWorks/ilog/pkg/logger"
	"github.com/shirou/gopsutil/v3/process"
)

// Finder looks up running processes by executable name.
type Finder struct {
	self   int32
	logger *logger.Logger
}

func NewFinder() *Finder {
	return &Finder{
		self:   int32(os.Getpid()),
		logger: logger.NewLogger("procs"),
	}
}

// FindByName returns the sorted pids of processes named name, excluding the
// caller. Matching is case-insensitive, the way pkill -x matches on macOS.
func (f *Finder) FindByName(ctx context.Context, name string) ([]int32, error) {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int32
	skipped := 0
	for _, p := range all {
		if p.Pid == f.self {
			continue
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname == "" {
			skipped++
			continue
		}
		if strings.EqualFold(pname, name) {
			pids = append(pids, p.Pid)
		}
	}

	if skipped > 0 {
		f.logger.WithFields(logger.Fields{
			"skipped": skipped,
			"total":   len(all),
		}).Debug("Process lookup skipped unreadable processes")
	}

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}
