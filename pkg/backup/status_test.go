package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	logsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "backup_code.log"),
		[]byte("2026-08-23 backup started\n2026-08-23 backup complete\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "backup_data.log"),
		[]byte("2026-08-23 rsync FAILED: disk full\n"), 0o644))

	sum := NewStatusProvider(logsDir).Summary()

	assert.Equal(t, "ok", sum.CodeBackup.Status)
	assert.Equal(t, "2026-08-23 backup complete", sum.CodeBackup.LastLine)
	assert.Equal(t, "error", sum.DataBackup.Status)
}

func TestSummary_MissingAndEmptyLogs(t *testing.T) {
	logsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "backup_data.log"), nil, 0o644))

	sum := NewStatusProvider(logsDir).Summary()
	assert.Equal(t, "missing", sum.CodeBackup.Status)
	assert.Equal(t, "missing", sum.DataBackup.Status)
}
