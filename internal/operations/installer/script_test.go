package installer

import (
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testSettings(tmpRoot string) Settings {
	return Settings{
		AppName:         "iLog",
		TargetAppPath:   "/Applications/iLog.app",
		ExecutableDir:   "Contents/MacOS",
		RelaunchFlag:    "--updated",
		SigningIdentity: "-",
		TmpRoot:         tmpRoot,
		TerminateWait:   1500 * time.Millisecond,
	}
}

func TestNewRequest_Paths(t *testing.T) {
	req, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/iLog.zip", "/staging/iLog_update_1760000000.zip")
	require.NoError(t, err)

	assert.Equal(t, "iLog", req.ProcessName)
	assert.Equal(t, "/tmp/update_iLog_"+req.ID+".sh", req.ScriptPath)
	assert.Equal(t, "/tmp/update_iLog_"+req.ID+".yaml", req.ManifestPath)
	assert.Equal(t, "/tmp/iLog_extract_"+req.ID, req.ScratchDir)
	assert.Equal(t, "/tmp/iLog_update_detailed.log", req.LogPath)
	assert.Equal(t, 2, req.terminateWaitSeconds())
}

func TestNewRequest_NoDownloadURL(t *testing.T) {
	_, err := NewRequest(testSettings("/tmp"), "2.3.1", "", "/staging/a.zip")
	assert.ErrorIs(t, err, common.ErrNoDownloadURL)

	_, err = NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/a.zip", "")
	assert.ErrorIs(t, err, common.ErrNoDownloadURL)
}

func TestNewRequest_UniqueScratchDirs(t *testing.T) {
	a, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/a.zip", "/staging/a.zip")
	require.NoError(t, err)
	b, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/a.zip", "/staging/a.zip")
	require.NoError(t, err)

	assert.NotEqual(t, a.ScratchDir, b.ScratchDir)
	assert.NotEqual(t, a.ScriptPath, b.ScriptPath)
}

func TestRender_ScriptContract(t *testing.T) {
	req, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/iLog.zip", "/staging/iLog_update_1760000000.zip")
	require.NoError(t, err)

	script, err := Render(req, DefaultSteps())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "ARTIFACT='/staging/iLog_update_1760000000.zip'")
	assert.Contains(t, script, "TARGET='/Applications/iLog.app'")
	assert.Contains(t, script, "SCRATCH='/tmp/iLog_extract_"+req.ID+"'")
	assert.Contains(t, script, "LOG_PATH='/tmp/iLog_update_detailed.log'")
	assert.Contains(t, script, "RELAUNCH_FLAG='--updated'")
	assert.Contains(t, script, "TERMINATE_WAIT=2")
	assert.Contains(t, script, "trap on_exit EXIT")
	assert.Contains(t, script, `rm -rf "$SCRATCH"`)

	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	assert.Equal(t, "rm -f '"+req.ScriptPath+"'", lines[len(lines)-1])
}

func TestRender_StepsRunInOrderWithPolicy(t *testing.T) {
	req, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/iLog.zip", "/staging/a.zip")
	require.NoError(t, err)

	steps := DefaultSteps()
	script, err := Render(req, steps)
	require.NoError(t, err)

	last := -1
	for i, s := range steps {
		call := "run_step " + s.Policy.String() + " " + s.Name + " step_" + strconv.Itoa(i)
		idx := strings.Index(script, call)
		require.GreaterOrEqual(t, idx, 0, call)
		assert.Greater(t, idx, last, "step %s out of order", s.Name)
		last = idx
	}
}

func TestDefaultSteps_Policies(t *testing.T) {
	want := map[string]Policy{
		"resolve_artifact":  Fatal,
		"verify_artifact":   Fatal,
		"acknowledge":       BestEffort,
		"prepare_scratch":   Fatal,
		"extract":           Fatal,
		"locate_bundle":     Fatal,
		"verify_bundle":     Fatal,
		"terminate_running": BestEffort,
		"replace_bundle":    Fatal,
		"fix_permissions":   BestEffort,
		"clear_quarantine":  BestEffort,
		"codesign":          BestEffort,
		"verify_installed":  Fatal,
		"cleanup":           BestEffort,
		"relaunch":          BestEffort,
	}

	steps := DefaultSteps()
	require.NoError(t, ValidateSteps(steps))
	require.Len(t, steps, len(want))
	for _, s := range steps {
		assert.Equal(t, want[s.Name], s.Policy, s.Name)
	}
	assert.Equal(t, "acknowledge", steps[2].Name)
	assert.Equal(t, "relaunch", steps[len(steps)-1].Name)
}

func TestValidateSteps(t *testing.T) {
	assert.Error(t, ValidateSteps(nil))
	assert.Error(t, ValidateSteps([]Step{{Name: "Bad Name", Body: "true"}}))
	assert.Error(t, ValidateSteps([]Step{{Name: "a", Body: "true"}, {Name: "a", Body: "true"}}))
	assert.Error(t, ValidateSteps([]Step{{Name: "empty"}}))
	assert.NoError(t, ValidateSteps([]Step{{Name: "ok", Body: "true"}}))
}

func TestRender_QuotesHostilePaths(t *testing.T) {
	s := testSettings(filepath.Join("/tmp", "it's here"))
	req, err := NewRequest(s, "2.3.1", "https://example.com/a.zip", "/staging/a'b.zip")
	require.NoError(t, err)

	script, err := Render(req, DefaultSteps())
	require.NoError(t, err)
	assert.Contains(t, script, `ARTIFACT='/staging/a'\''b.zip'`)
}

func TestManifest_RoundTrip(t *testing.T) {
	req, err := NewRequest(testSettings("/tmp"), "2.3.1", "https://example.com/a.zip", "/staging/a.zip")
	require.NoError(t, err)

	data, err := req.Manifest()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, req.ID, decoded["id"])
	assert.Equal(t, "2.3.1", decoded["version"])
	assert.Equal(t, "/Applications/iLog.app", decoded["target_app_path"])
}
