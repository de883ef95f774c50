// Package workspace resolves where results live and how result files are named.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResultsEnvVar overrides the results directory. Relative values are resolved against the project root.
const ResultsEnvVar = "DRIVEQA_RESULTS"

// DefaultResultsDir is used when neither the environment nor the configuration names a directory.
const DefaultResultsDir = "eval/results"

// StampLayout is the UTC timestamp layout embedded in artifact and summary names.
const StampLayout = "20060102T150405Z"

// ResultsDir returns the results directory for rootPath. DRIVEQA_RESULTS wins over configured, which wins over
// DefaultResultsDir.
func ResultsDir(rootPath, configured string) string {
	dir := strings.TrimSpace(os.Getenv(ResultsEnvVar))
	if dir == "" {
		dir = strings.TrimSpace(configured)
	}
	if dir == "" {
		dir = DefaultResultsDir
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(rootPath, filepath.Clean(dir))
}

// ArtifactName returns the file name of a results artifact created at t. suffix distinguishes artifacts created in
// the same second.
func ArtifactName(t time.Time, suffix string) string {
	return fmt.Sprintf("run_%s_%s.json", t.UTC().Format(StampLayout), suffix)
}

// IsArtifactName reports whether name looks like a results artifact.
func IsArtifactName(name string) bool {
	return strings.HasPrefix(name, "run_") && strings.HasSuffix(name, ".json")
}

// EnsureDir makes sure dir exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
