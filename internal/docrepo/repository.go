// Package docrepo is the document repository the agent reads from: a Google Drive client, a local-directory
// stand-in, and the search/list/read capabilities built on either.
package docrepo

import (
	"context"
	"fmt"
	"strings"
)

// FolderMimeType is the MIME type Drive uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// Google Workspace types that are exported rather than downloaded.
const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	mimeGoogleSlides = "application/vnd.google-apps.presentation"
)

// File is document metadata. It never carries content.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// Repository is a read-only document store.
type Repository interface {
	// Search returns up to limit files whose name or content matches query.
	Search(ctx context.Context, query string, limit int) ([]File, error)
	// List returns up to limit files in folderID, or recent files when folderID is empty.
	List(ctx context.Context, folderID string, limit int) ([]File, error)
	// Read returns the plain-text content of fileID. Types that cannot be rendered as text fail with
	// *UnsupportedTypeError.
	Read(ctx context.Context, fileID string) (string, error)
}

// UnsupportedTypeError is returned by Read for files whose type has no text rendering.
type UnsupportedTypeError struct {
	MimeType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Unsupported file type: %s", e.MimeType)
}

// isTextType reports whether content of this type can be returned as-is.
func isTextType(mimeType string) bool {
	mt, _, _ := strings.Cut(mimeType, ";")
	mt = strings.TrimSpace(strings.ToLower(mt))
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml",
		"application/javascript", "application/x-sh", "application/sql":
		return true
	}
	return strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml")
}
