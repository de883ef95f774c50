package docrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/codalotl/driveqa/internal/capability"
)

const (
	DefaultSearchResults = 10
	MaxSearchResults     = 100
	ListLimit            = 50
	MaxDocumentChars     = 8000
	truncatedMarker      = "\n[TRUNCATED]"
)

// Capability names advertised to the completion service.
const (
	SearchCapability = "search_drive"
	ListCapability   = "list_files"
	ReadCapability   = "read_document"
)

// Capabilities returns search_drive, list_files and read_document backed by repo. Search and list return metadata
// only; read_document is the only capability that returns content.
func Capabilities(repo Repository) []capability.Capability {
	return []capability.Capability{
		{
			Name:        SearchCapability,
			Description: "Search documents by name or content. Returns metadata (id, name, mimeType) only; use read_document to get content.",
			Params: []capability.Param{
				{Name: "query", Type: capability.TypeString, Required: true, Description: "Words to look for in file names and contents."},
				{Name: "max_results", Type: capability.TypeInteger, Default: DefaultSearchResults, Description: "Maximum number of files to return."},
			},
			Handler: func(ctx context.Context, args capability.Args) (string, error) {
				limit := min(max(args.Int("max_results"), 1), MaxSearchResults)
				files, err := repo.Search(ctx, args.Text("query"), limit)
				if err != nil {
					return "", err
				}
				return renderFiles(files)
			},
		},
		{
			Name:        ListCapability,
			Description: "List files in a folder, or the most recently modified files when no folder is given. Returns metadata only.",
			Params: []capability.Param{
				{Name: "folder_id", Type: capability.TypeString, Description: "Folder to list. Omit to list recent files."},
			},
			Handler: func(ctx context.Context, args capability.Args) (string, error) {
				files, err := repo.List(ctx, args.Text("folder_id"), ListLimit)
				if err != nil {
					return "", err
				}
				return renderFiles(files)
			},
		},
		{
			Name:        ReadCapability,
			Description: fmt.Sprintf("Read the plain-text content of a document. Content longer than %d characters is truncated.", MaxDocumentChars),
			Params: []capability.Param{
				{Name: "file_id", Type: capability.TypeString, Required: true, Description: "ID of the file, as returned by search_drive or list_files."},
			},
			Handler: func(ctx context.Context, args capability.Args) (string, error) {
				text, err := repo.Read(ctx, args.Text("file_id"))
				var unsupported *UnsupportedTypeError
				if errors.As(err, &unsupported) {
					return unsupported.Error(), nil
				}
				if err != nil {
					return "", err
				}
				return Truncate(text, MaxDocumentChars), nil
			},
		},
	}
}

// Truncate cuts s to at most n characters and marks the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + truncatedMarker
		}
		count++
	}
	return s
}

func renderFiles(files []File) (string, error) {
	if files == nil {
		files = []File{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
