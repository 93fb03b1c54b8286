package installer

import (
	"archive/zip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/cmdrunner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const selfTestProcess = "iLogSelfTest"

type zipEntry struct {
	name string
	body string
	mode os.FileMode
}

func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		hdr.SetMode(e.mode)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// installFixture lays out a temp root with an installed bundle and a staged
// artifact built from entries.
func installFixture(t *testing.T, entries []zipEntry) (*InstallRequest, string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("default steps relaunch through open(1) on macOS")
	}
	if _, err := exec.LookPath("unzip"); err != nil {
		t.Skip("unzip not available")
	}

	root := t.TempDir()
	target := filepath.Join(root, "Applications", selfTestProcess+".app")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "Contents", "MacOS"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "Contents", "old-version"), []byte("1.0.0"), 0644))

	artifact := filepath.Join(root, "staging", selfTestProcess+"_update_1760000000.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(artifact), 0755))
	writeZip(t, artifact, entries)

	tmp := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))

	req, err := NewRequest(Settings{
		AppName:         selfTestProcess,
		TargetAppPath:   target,
		ExecutableDir:   "Contents/MacOS",
		RelaunchFlag:    "--updated",
		SigningIdentity: "-",
		TmpRoot:         tmp,
	}, "2.0.0", "https://example.com/"+selfTestProcess+".zip", artifact)
	require.NoError(t, err)
	return req, root
}

func runInstaller(t *testing.T, req *InstallRequest) string {
	t.Helper()
	o := NewOrchestrator(cmdrunner.NewCommandsRunner(), WithAckTimeout(10*time.Second))
	_, err := o.Handoff(context.Background(), req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(req.ScriptPath)
		return os.IsNotExist(err)
	}, 20*time.Second, 50*time.Millisecond, "installer should delete itself")

	logData, err := os.ReadFile(req.LogPath)
	require.NoError(t, err)
	return string(logData)
}

func TestDefaultSteps_InstallsAndRelaunches(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "relaunched")
	bundle := selfTestProcess + ".app/Contents/"
	req, _ := installFixture(t, []zipEntry{
		{name: bundle + "Info.plist", body: "<plist/>", mode: 0644},
		{name: bundle + "MacOS/" + selfTestProcess, body: "#!/bin/sh\necho \"$@\" > '" + marker + "'\n", mode: 0755},
	})

	log := runInstaller(t, req)

	for _, step := range []string{"extract", "locate_bundle", "verify_bundle", "replace_bundle", "verify_installed", "cleanup", "relaunch"} {
		assert.Contains(t, log, "step "+step+": ok", step)
	}
	assert.Contains(t, log, "update of "+selfTestProcess+" finished")

	assert.FileExists(t, filepath.Join(req.TargetAppPath, "Contents", "Info.plist"))
	assert.NoFileExists(t, filepath.Join(req.TargetAppPath, "Contents", "old-version"))
	assert.NoFileExists(t, req.ArtifactPath)
	assert.NoFileExists(t, req.ManifestPath)
	assert.NoDirExists(t, req.ScratchDir)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && strings.TrimSpace(string(data)) == "--updated"
	}, 10*time.Second, 50*time.Millisecond, "relaunched app should get the relaunch flag")
}

func TestDefaultSteps_AbortWithoutBundleKeepsInstall(t *testing.T) {
	req, _ := installFixture(t, []zipEntry{
		{name: "README.txt", body: "no bundle here", mode: 0644},
	})

	log := runInstaller(t, req)

	assert.Contains(t, log, "step locate_bundle: failed, aborting update")
	assert.NotContains(t, log, "step replace_bundle")
	assert.Contains(t, log, "installer exiting with status 1")

	assert.FileExists(t, filepath.Join(req.TargetAppPath, "Contents", "old-version"))
	assert.NoDirExists(t, req.ScratchDir)
	assert.NoFileExists(t, req.ArtifactPath)
	assert.NoFileExists(t, req.ManifestPath)
}
