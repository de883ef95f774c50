package docrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultDriveBaseURL is the Drive v3 REST endpoint.
const DefaultDriveBaseURL = "https://www.googleapis.com/drive/v3"

// maxDownloadBytes bounds how much of a file is read before truncation for the model.
const maxDownloadBytes = 1 << 20

var errNoToken = errors.New("drive: no access token configured")

// DriveConfig configures a Drive client. Tokens authorizes every request; HTTPClient, when set, is the base
// client the authorizing transport wraps.
type DriveConfig struct {
	BaseURL    string
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger
}

// Drive reads a Google Drive through the v3 REST API. It is safe for concurrent use.
type Drive struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// DriveError is a non-2xx response from the Drive API.
type DriveError struct {
	StatusCode int
	Message    string
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("drive: status %d: %s", e.StatusCode, e.Message)
}

// NewDrive returns a Drive client for cfg.
func NewDrive(cfg DriveConfig) *Drive {
	d := &Drive{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    cfg.Backoff,
		logger:     cfg.Logger,
	}
	if d.baseURL == "" {
		d.baseURL = DefaultDriveBaseURL
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Tokens != nil {
		d.httpClient = oauth2.NewClient(context.WithValue(context.Background(), oauth2.HTTPClient, base), cfg.Tokens)
		d.httpClient.Timeout = base.Timeout
	}
	if d.backoff <= 0 {
		d.backoff = 500 * time.Millisecond
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

type fileList struct {
	Files []File `json:"files"`
}

// Search matches name or full text.
func (d *Drive) Search(ctx context.Context, query string, limit int) ([]File, error) {
	q := quoteQuery(query)
	params := url.Values{}
	params.Set("q", fmt.Sprintf("(name contains %s or fullText contains %s) and trashed = false", q, q))
	return d.listFiles(ctx, params, limit)
}

// List returns the children of folderID, or the most recently modified files when folderID is empty.
func (d *Drive) List(ctx context.Context, folderID string, limit int) ([]File, error) {
	params := url.Values{}
	if folderID != "" {
		params.Set("q", fmt.Sprintf("%s in parents and trashed = false", quoteQuery(folderID)))
		params.Set("orderBy", "folder,name")
	} else {
		params.Set("q", "trashed = false")
		params.Set("orderBy", "modifiedTime desc")
	}
	return d.listFiles(ctx, params, limit)
}

func (d *Drive) listFiles(ctx context.Context, params url.Values, limit int) ([]File, error) {
	params.Set("pageSize", fmt.Sprint(min(max(limit, 1), 1000)))
	params.Set("fields", "files(id,name,mimeType)")
	params.Set("supportsAllDrives", "true")
	params.Set("includeItemsFromAllDrives", "true")

	body, err := d.get(ctx, "/files", params)
	if err != nil {
		return nil, err
	}
	var list fileList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("drive: parse file list: %w", err)
	}
	if list.Files == nil {
		list.Files = []File{}
	}
	return list.Files, nil
}

// Read exports Google Workspace documents as text and downloads text files directly.
func (d *Drive) Read(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", errors.New("drive: file id is empty")
	}
	path := "/files/" + url.PathEscape(fileID)
	meta, err := d.get(ctx, path, url.Values{"fields": {"id,name,mimeType"}, "supportsAllDrives": {"true"}})
	if err != nil {
		return "", err
	}
	var f File
	if err := json.Unmarshal(meta, &f); err != nil {
		return "", fmt.Errorf("drive: parse file metadata: %w", err)
	}

	var content []byte
	switch {
	case f.MimeType == mimeGoogleDoc || f.MimeType == mimeGoogleSlides:
		content, err = d.get(ctx, path+"/export", url.Values{"mimeType": {"text/plain"}})
	case f.MimeType == mimeGoogleSheet:
		content, err = d.get(ctx, path+"/export", url.Values{"mimeType": {"text/csv"}})
	case isTextType(f.MimeType):
		content, err = d.get(ctx, path, url.Values{"alt": {"media"}, "supportsAllDrives": {"true"}})
	default:
		return "", &UnsupportedTypeError{MimeType: f.MimeType}
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (d *Drive) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff << (attempt - 1)
			d.logger.Warn("retrying drive request", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		body, retry, err := d.getOnce(ctx, path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, lastErr
}

func (d *Drive) getOnce(ctx context.Context, path string, params url.Values) ([]byte, bool, error) {
	if d.httpClient == nil {
		return nil, false, errNoToken
	}
	u := d.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, fmt.Errorf("drive: create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("drive: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, true, fmt.Errorf("drive: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, false, nil
	}
	de := &DriveError{StatusCode: resp.StatusCode, Message: driveErrorMessage(body)}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return nil, retry, de
}

func driveErrorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// quoteQuery renders s as a single-quoted Drive query string literal.
func quoteQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
