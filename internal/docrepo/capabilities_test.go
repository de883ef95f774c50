package docrepo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/driveqa/internal/capability"
)

type fakeRepo struct {
	searchQuery string
	searchLimit int
	listFolder  string
	listLimit   int
	files       []File
	content     map[string]string
	readErr     error
}

func (f *fakeRepo) Search(_ context.Context, query string, limit int) ([]File, error) {
	f.searchQuery, f.searchLimit = query, limit
	return f.files, nil
}

func (f *fakeRepo) List(_ context.Context, folderID string, limit int) ([]File, error) {
	f.listFolder, f.listLimit = folderID, limit
	return f.files, nil
}

func (f *fakeRepo) Read(_ context.Context, fileID string) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	text, ok := f.content[fileID]
	if !ok {
		return "", errors.New("file not found")
	}
	return text, nil
}

func newCapabilityRegistry(t *testing.T, repo Repository) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(Capabilities(repo)...)
	require.NoError(t, err)
	return reg
}

func TestCapabilities_Schemas(t *testing.T) {
	t.Parallel()

	reg := newCapabilityRegistry(t, &fakeRepo{})
	require.Equal(t, []string{SearchCapability, ListCapability, ReadCapability}, reg.Names())
}

func TestSearchCapability(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{files: []File{{ID: "1", Name: "Q3 plan", MimeType: mimeGoogleDoc}}}
	reg := newCapabilityRegistry(t, repo)

	res := reg.Invoke(context.Background(), SearchCapability, map[string]any{"query": "plan"})
	require.False(t, res.IsError)
	require.JSONEq(t, `[{"id":"1","name":"Q3 plan","mimeType":"application/vnd.google-apps.document"}]`, res.Text)
	require.Equal(t, "plan", repo.searchQuery)
	require.Equal(t, DefaultSearchResults, repo.searchLimit)

	reg.Invoke(context.Background(), SearchCapability, map[string]any{"query": "plan", "max_results": float64(1000)})
	require.Equal(t, MaxSearchResults, repo.searchLimit)

	reg.Invoke(context.Background(), SearchCapability, map[string]any{"query": "plan", "max_results": float64(0)})
	require.Equal(t, 1, repo.searchLimit)
}

func TestListCapability(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	reg := newCapabilityRegistry(t, repo)

	res := reg.Invoke(context.Background(), ListCapability, map[string]any{})
	require.False(t, res.IsError)
	require.Equal(t, "[]", res.Text)
	require.Equal(t, "", repo.listFolder)
	require.Equal(t, ListLimit, repo.listLimit)

	reg.Invoke(context.Background(), ListCapability, map[string]any{"folder_id": "abc"})
	require.Equal(t, "abc", repo.listFolder)
}

func TestReadCapability(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxDocumentChars+10)
	repo := &fakeRepo{content: map[string]string{"short": "hello", "long": long}}
	reg := newCapabilityRegistry(t, repo)
	ctx := context.Background()

	res := reg.Invoke(ctx, ReadCapability, map[string]any{"file_id": "short"})
	require.False(t, res.IsError)
	require.Equal(t, "hello", res.Text)

	res = reg.Invoke(ctx, ReadCapability, map[string]any{"file_id": "long"})
	require.False(t, res.IsError)
	require.True(t, strings.HasSuffix(res.Text, "[TRUNCATED]"))
	require.Equal(t, strings.Repeat("é", MaxDocumentChars)+truncatedMarker, res.Text)

	res = reg.Invoke(ctx, ReadCapability, map[string]any{"file_id": "missing"})
	require.True(t, res.IsError)
	require.Equal(t, "Error: file not found", res.Text)
}

func TestReadCapability_UnsupportedTypeIsNotAnError(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{readErr: &UnsupportedTypeError{MimeType: "image/png"}}
	reg := newCapabilityRegistry(t, repo)

	res := reg.Invoke(context.Background(), ReadCapability, map[string]any{"file_id": "x"})
	require.False(t, res.IsError)
	require.Equal(t, "Unsupported file type: image/png", res.Text)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", Truncate("abc", 3))
	require.Equal(t, "ab"+truncatedMarker, Truncate("abc", 2))
	require.Equal(t, "", Truncate("", 0))
}
