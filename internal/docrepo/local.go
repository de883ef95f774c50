package docrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/codalotl/driveqa/internal/fsutil"
)

// maxSearchBytes bounds the size of files whose content Local.Search scans.
const maxSearchBytes = 1 << 20

// Local serves a directory tree as a repository. File IDs are slash-separated paths relative to the root.
type Local struct {
	root string
}

// NewLocal returns a repository rooted at dir.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("local repository: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local repository: %s is not a directory", dir)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("local repository: %w", err)
	}
	return &Local{root: resolved}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

// Search matches names and text contents case-insensitively, walking the tree in lexical order.
func (l *Local) Search(ctx context.Context, query string, limit int) ([]File, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := []File{}
	if needle == "" || limit <= 0 {
		return out, nil
	}
	errDone := errors.New("done")
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == l.root {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		f, err := l.fileFor(path, d)
		if err != nil {
			return err
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) || (!d.IsDir() && l.contentContains(f.ID, f.MimeType, needle)) {
			out = append(out, f)
			if len(out) >= limit {
				return errDone
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDone) {
		return nil, err
	}
	return out, nil
}

// List returns the entries of folderID (the root when empty), folders first.
func (l *Local) List(ctx context.Context, folderID string, limit int) ([]File, error) {
	dir, err := fsutil.SafeResolve(l.root, folderID)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", folderID, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", folderID, err)
	}
	var folders, files []File
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isHidden(e.Name()) {
			continue
		}
		f, err := l.fileFor(filepath.Join(dir, e.Name()), e)
		if err != nil {
			return nil, err
		}
		if e.IsDir() {
			folders = append(folders, f)
		} else {
			files = append(files, f)
		}
	}
	out := append(append([]File{}, folders...), files...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Read returns the content of a text file.
func (l *Local) Read(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := fsutil.SafeResolve(l.root, fileID)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", fileID, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", fileID, err)
	}
	if info.IsDir() {
		return "", &UnsupportedTypeError{MimeType: FolderMimeType}
	}
	mt := detectMimeType(path)
	if !isTextType(mt) {
		return "", &UnsupportedTypeError{MimeType: mt}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", fileID, err)
	}
	return string(data), nil
}

func (l *Local) fileFor(path string, d fs.DirEntry) (File, error) {
	id, err := fsutil.RelSlash(l.root, path)
	if err != nil {
		return File{}, err
	}
	f := File{ID: id, Name: d.Name(), MimeType: FolderMimeType}
	if !d.IsDir() {
		f.MimeType = detectMimeType(path)
	}
	return f, nil
}

func (l *Local) contentContains(fileID, mimeType, needle string) bool {
	if !isTextType(mimeType) {
		return false
	}
	path, err := fsutil.SafeResolve(l.root, fileID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchBytes {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(bytes.ToLower(data), []byte(needle))
}

// detectMimeType uses the extension first and falls back to sniffing the first 512 bytes.
func detectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".yml", ".yaml":
		return "application/yaml"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		mt, _, _ = strings.Cut(mt, ";")
		return mt
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	mt, _, _ := strings.Cut(http.DetectContentType(buf[:n]), ";")
	return mt
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
