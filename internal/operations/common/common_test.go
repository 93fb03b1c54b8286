package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return logrus.NewEntry(l)
}

func TestUpdateError_IsKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := NetworkError("fetch latest release", cause)

	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrNetwork, KindOf(err))
	assert.Equal(t, "fetch latest release: network error: connection refused", err.Error())
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("stage: %w", FilesystemError("rename", os.ErrNotExist))
	assert.Equal(t, ErrFilesystem, KindOf(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestCopyWithContext_Progress(t *testing.T) {
	src := strings.NewReader(strings.Repeat("x", 70*1024))
	var dst bytes.Buffer
	var last int64

	n, err := CopyWithContext(context.Background(), &dst, src, func(written int64) { last = written })
	require.NoError(t, err)
	assert.Equal(t, int64(70*1024), n)
	assert.Equal(t, n, last)
}

func TestCopyWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyWithContext(ctx, &bytes.Buffer{}, strings.NewReader("data"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("artifact"))
	hexSum := hex.EncodeToString(sum[:])

	got, ok := ParseDigest("sha256:" + strings.ToUpper(hexSum))
	require.True(t, ok)
	assert.Equal(t, hexSum, got)

	for _, digest := range []string{"", "md5:abc", "sha256:short", hexSum} {
		_, ok := ParseDigest(digest)
		assert.False(t, ok, digest)
	}
}

func TestVerifyChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zip")
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0644))
	sum := sha256.Sum256([]byte("artifact"))

	require.NoError(t, VerifyChecksum(testEntry(), path, hex.EncodeToString(sum[:])))

	err := VerifyChecksum(testEntry(), path, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, ErrChecksum)

	err = VerifyChecksum(testEntry(), filepath.Join(t.TempDir(), "missing"), "x")
	assert.ErrorIs(t, err, ErrFilesystem)
}

func TestMoveFile_ReplacesAndSetsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "transient")
	dst := filepath.Join(dir, "staged.zip")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0600))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0600))

	require.NoError(t, MoveFile(testEntry(), src, dst, ArtifactPerm))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, ArtifactPerm, info.Mode().Perm())
	assert.NoFileExists(t, src)
}

func TestPermissionManager_WriteFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "scripts")
	pm := NewPermissionManager(base, DirPerm, ScriptPerm, testEntry())

	require.NoError(t, pm.EnsureBaseDirectory())
	path, err := pm.WriteFile("run.sh", []byte("#!/bin/sh\n"))
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, ScriptPerm, info.Mode().Perm())
}
