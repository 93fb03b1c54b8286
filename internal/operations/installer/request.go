package installer

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Settings are the per-installation values every InstallRequest shares.
type Settings struct {
	AppName         string
	ProcessName     string
	TargetAppPath   string
	ExecutableDir   string
	RelaunchFlag    string
	SigningIdentity string
	TmpRoot         string
	TerminateWait   time.Duration
}

// InstallRequest is the one-way message handed to the detached installer.
// Nothing flows back except the start acknowledgment.
type InstallRequest struct {
	ID              string        `yaml:"id"`
	AppName         string        `yaml:"app_name"`
	ProcessName     string        `yaml:"process_name"`
	Version         string        `yaml:"version"`
	SourceURL       string        `yaml:"source_url"`
	ArtifactPath    string        `yaml:"artifact_path"`
	TargetAppPath   string        `yaml:"target_app_path"`
	ExecutableDir   string        `yaml:"executable_dir"`
	ScratchDir      string        `yaml:"scratch_dir"`
	ScriptPath      string        `yaml:"script_path"`
	ManifestPath    string        `yaml:"manifest_path"`
	LogPath         string        `yaml:"log_path"`
	RelaunchFlag    string        `yaml:"relaunch_flag"`
	SigningIdentity string        `yaml:"signing_identity"`
	TerminateWait   time.Duration `yaml:"terminate_wait"`
	CreatedAt       time.Time     `yaml:"created_at"`
}

// ScriptPrefix is the file name prefix of installer scripts for appName.
func ScriptPrefix(appName string) string {
	return "update_" + appName + "_"
}

// DetailedLogPath is where installers for appName append their output.
func DetailedLogPath(tmpRoot, appName string) string {
	return filepath.Join(tmpRoot, appName+"_update_detailed.log")
}

// NewRequest builds the request for a staged artifact. It fails with
// common.ErrNoDownloadURL when there is nothing to install.
func NewRequest(s Settings, version, sourceURL, artifactPath string) (*InstallRequest, error) {
	if strings.TrimSpace(sourceURL) == "" || strings.TrimSpace(artifactPath) == "" {
		return nil, common.NewError(common.ErrNoDownloadURL, "build install request", nil)
	}
	if s.AppName == "" || s.TargetAppPath == "" || s.TmpRoot == "" {
		return nil, fmt.Errorf("install settings need an app name, target path and temp root")
	}

	id := uuid.New().String()
	processName := s.ProcessName
	if processName == "" {
		processName = s.AppName
	}

	return &InstallRequest{
		ID:              id,
		AppName:         s.AppName,
		ProcessName:     processName,
		Version:         version,
		SourceURL:       sourceURL,
		ArtifactPath:    artifactPath,
		TargetAppPath:   s.TargetAppPath,
		ExecutableDir:   s.ExecutableDir,
		ScratchDir:      filepath.Join(s.TmpRoot, fmt.Sprintf("%s_extract_%s", s.AppName, id)),
		ScriptPath:      filepath.Join(s.TmpRoot, ScriptPrefix(s.AppName)+id+".sh"),
		ManifestPath:    filepath.Join(s.TmpRoot, ScriptPrefix(s.AppName)+id+".yaml"),
		LogPath:         DetailedLogPath(s.TmpRoot, s.AppName),
		RelaunchFlag:    s.RelaunchFlag,
		SigningIdentity: s.SigningIdentity,
		TerminateWait:   s.TerminateWait,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Manifest serializes the request for the audit file written beside the script.
func (r *InstallRequest) Manifest() ([]byte, error) {
	return yaml.Marshal(r)
}

// terminateWaitSeconds rounds up so a sub-second wait still sleeps.
func (r *InstallRequest) terminateWaitSeconds() int {
	if r.TerminateWait <= 0 {
		return 0
	}
	return int(math.Ceil(r.TerminateWait.Seconds()))
}
