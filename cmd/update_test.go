package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListStaged(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "iLog_update_1700000000.zip")
	newer := filepath.Join(dir, "iLog_update_1700000500.zip")
	require.NoError(t, os.WriteFile(older, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("newer"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".update.lock"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "iLog_update_dir"), 0755))

	mod := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, mod, mod))

	staged := listStaged(dir, "iLog_update_")
	require.Len(t, staged, 2)
	assert.Equal(t, newer, staged[0].Path)
	assert.Equal(t, int64(5), staged[0].Size)
	assert.Equal(t, older, staged[1].Path)
}

func TestListStaged_MissingDir(t *testing.T) {
	assert.Empty(t, listStaged(filepath.Join(t.TempDir(), "absent"), "iLog_update_"))
}
