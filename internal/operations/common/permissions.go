package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Modes used for update artifacts.
const (
	DirPerm      os.FileMode = 0755
	ArtifactPerm os.FileMode = 0644
	ScriptPerm   os.FileMode = 0755
)

// PermissionManager owns a directory tree and the modes of files placed in it
type PermissionManager struct {
	BaseDir  string
	DirPerm  os.FileMode
	FilePerm os.FileMode
	Logger   *logrus.Entry
}

// NewPermissionManager creates a new PermissionManager with the given configuration
func NewPermissionManager(baseDir string, dirPerm, filePerm os.FileMode, logger *logrus.Entry) *PermissionManager {
	return &PermissionManager{
		BaseDir:  baseDir,
		DirPerm:  dirPerm,
		FilePerm: filePerm,
		Logger:   logger,
	}
}

// EnsureBaseDirectory creates the base directory if it doesn't exist
func (pm *PermissionManager) EnsureBaseDirectory() error {
	pm.Logger.WithField("base_dir", pm.BaseDir).Debug("Ensuring base directory exists")

	if err := os.MkdirAll(pm.BaseDir, pm.DirPerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to create base directory")
		return FilesystemError("create "+pm.BaseDir, err)
	}

	return nil
}

// Path joins name onto the base directory.
func (pm *PermissionManager) Path(name string) string {
	return filepath.Join(pm.BaseDir, name)
}

// WriteFile writes data under the base directory with the manager's file mode,
// applying the mode explicitly so the umask cannot narrow it.
func (pm *PermissionManager) WriteFile(name string, data []byte) (string, error) {
	path := pm.Path(name)
	if err := os.WriteFile(path, data, pm.FilePerm); err != nil {
		return "", FilesystemError("write "+path, err)
	}
	if err := pm.SetFilePermissions(path); err != nil {
		return "", err
	}
	return path, nil
}

// SetFilePermissions applies the manager's file mode to path
func (pm *PermissionManager) SetFilePermissions(path string) error {
	pm.Logger.WithFields(logrus.Fields{"path": path, "mode": fmt.Sprintf("%#o", pm.FilePerm)}).Debug("Setting file permissions")

	if err := os.Chmod(path, pm.FilePerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to set file permissions")
		return FilesystemError("chmod "+path, err)
	}

	return nil
}
