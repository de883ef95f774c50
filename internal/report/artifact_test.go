package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/driveqa/internal/types"
)

func TestWriteArtifactRoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "results")
	created := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	art := NewArtifact(types.EvalReport{Verdict: types.VerdictSingle}, "claude-sonnet-4-6", "eval/questions.yml", created)
	require.Contains(t, art.RunID, "run_")

	path, err := WriteArtifact(dir, art)
	require.NoError(t, err)
	require.Regexp(t, `run_20261018T093000Z_[0-9a-f-]{8}\.json$`, filepath.Base(path))

	got, err := ReadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, art, got)

	second, err := WriteArtifact(dir, art)
	require.NoError(t, err)
	require.NotEqual(t, path, second)
}

// Not parallel: swaps newSuffix.
func TestWriteArtifactNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	orig := newSuffix
	t.Cleanup(func() { newSuffix = orig })

	suffixes := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	newSuffix = func() string {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s
	}

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := WriteArtifact(dir, types.Artifact{RunID: "one", CreatedAt: created})
	require.NoError(t, err)
	second, err := WriteArtifact(dir, types.Artifact{RunID: "two", CreatedAt: created})
	require.NoError(t, err)
	require.Equal(t, "run_20260101T000000Z_bbbbbbbb.json", filepath.Base(second))

	got, err := ReadArtifact(first)
	require.NoError(t, err)
	require.Equal(t, "one", got.RunID)

	newSuffix = func() string { return "aaaaaaaa" }
	_, err = WriteArtifact(dir, types.Artifact{RunID: "three", CreatedAt: created})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
