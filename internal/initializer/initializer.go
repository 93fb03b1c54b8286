package initializer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/config"
	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/CloudNativeWorks/ilog/internal/operations/installer"
	"github.com/CloudNativeWorks/ilog/pkg/logger"
)

// StaleAfter is how old leftover update files must be before startup removes them.
const StaleAfter = 24 * time.Hour

type Initializer struct {
	Logger *logger.Logger
	cfg    *config.Config
	now    func() time.Time
}

func NewInitializer(cfg *config.Config) *Initializer {
	return &Initializer{
		Logger: logger.NewLogger("initializer"),
		cfg:    cfg,
		now:    time.Now,
	}
}

// EnsureDirectories creates the data and staging directories.
func (i *Initializer) EnsureDirectories() error {
	for _, dir := range []string{i.cfg.App.DataDir, i.cfg.Download.StagingDir} {
		pm := common.NewPermissionManager(dir, common.DirPerm, common.ArtifactPerm, i.Logger.Entry())
		if err := pm.EnsureBaseDirectory(); err != nil {
			return err
		}
	}
	return nil
}

// CleanupStale removes installer scripts, manifests, scratch directories and
// staged artifacts left behind by interrupted updates. Files newer than
// StaleAfter are kept unless force is set, which the relaunched app uses.
func (i *Initializer) CleanupStale(force bool) int {
	app := i.cfg.App.Name
	removed := 0

	removed += i.removeMatching(i.cfg.Installer.TmpRoot, force, func(name string) bool {
		return strings.HasPrefix(name, installer.ScriptPrefix(app)) ||
			strings.HasPrefix(name, app+"_extract_")
	})
	removed += i.removeMatching(i.cfg.Download.StagingDir, force, func(name string) bool {
		return strings.HasPrefix(name, app+"_update_")
	})

	if removed > 0 {
		i.Logger.WithField("removed", removed).Info("Removed leftover update files")
	}
	return removed
}

func (i *Initializer) removeMatching(dir string, force bool, match func(string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			i.Logger.WithError(err).Warnf("Could not scan %s", dir)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !force && i.now().Sub(info.ModTime()) < StaleAfter {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			i.Logger.WithError(err).Warnf("Failed to remove %s", path)
			continue
		}
		removed++
	}
	return removed
}

// ReportRelaunch logs the outcome of the previous update when the installer
// relaunched the app, and returns the installer log tail for display.
func (i *Initializer) ReportRelaunch(version string) string {
	logPath := installer.DetailedLogPath(i.cfg.Installer.TmpRoot, i.cfg.App.Name)
	tail := i.InstallerLogTail(5)

	i.Logger.WithFields(logger.Fields{
		"version":       version,
		"installer_log": logPath,
	}).Info("Relaunched after update")
	return tail
}

// InstallerLogTail returns the last n lines of the installer log, or "" when
// no installer has run.
func (i *Initializer) InstallerLogTail(n int) string {
	return lastLines(installer.DetailedLogPath(i.cfg.Installer.TmpRoot, i.cfg.App.Name), n)
}

func lastLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
