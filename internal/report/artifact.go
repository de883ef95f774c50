package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codalotl/driveqa/internal/types"
	"github.com/codalotl/driveqa/internal/workspace"
)

const maxNameAttempts = 5

// newSuffix is a variable so tests can force name collisions.
var newSuffix = func() string { return uuid.NewString()[:8] }

// NewArtifact wraps rep in an envelope with a fresh run ID.
func NewArtifact(rep types.EvalReport, model, questionsFile string, createdAt time.Time) types.Artifact {
	return types.Artifact{
		RunID:         "run_" + uuid.NewString(),
		CreatedAt:     createdAt.UTC(),
		Model:         model,
		QuestionsFile: questionsFile,
		Report:        rep,
	}
}

// WriteArtifact writes a under dir with a name no earlier artifact uses and returns its path. Existing files are
// never overwritten.
func WriteArtifact(dir string, a types.Artifact) (string, error) {
	if err := workspace.EnsureDir(dir); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(dir, workspace.ArtifactName(a.CreatedAt, newSuffix()))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("could not find an unused artifact name in %s", dir)
}

// ReadArtifact loads an artifact written by WriteArtifact.
func ReadArtifact(path string) (types.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Artifact{}, err
	}
	var a types.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return types.Artifact{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return a, nil
}
