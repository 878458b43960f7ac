package runlog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLast(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Last(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Append(dir, Run{RunAt: "2026-01-02T15:00:00Z", Tool: "codex", Start: "2026-01-02T14:00:00Z", End: "2026-01-02T15:00:00Z", ChangelogRunID: "aaaa"}))
	require.NoError(t, Append(dir, Run{RunAt: "2026-01-02T16:00:00Z", Tool: "codex", Start: "2026-01-02T15:00:00Z", End: "2026-01-02T16:00:00Z", ChangelogRunID: "bbbb"}))

	last, ok, err := Last(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bbbb", last.ChangelogRunID)
	assert.Equal(t, 16, last.EndTime().Hour())

	runs, err := ReadAll(dir)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, Run{Tool: "claude", End: "2026-01-02T15:00:00Z"}))

	f, err := os.OpenFile(Path(dir), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	runs, err := ReadAll(dir)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestEndTimeMalformed(t *testing.T) {
	assert.True(t, Run{End: "whenever"}.EndTime().IsZero())
}
