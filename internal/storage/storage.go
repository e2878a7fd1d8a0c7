// Package storage keeps uploaded invoice documents. Stored documents are addressed by
// URL: gs://bucket/key for Cloud Storage and file:///path for local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Fetch when a document exceeds the size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// FileStore stores documents and issues short-lived read URLs for them.
type FileStore interface {
	// Put stores data and returns its durable URL.
	Put(ctx context.Context, fileName, contentType string, data []byte) (string, error)
	// SignedURL returns a URL that Fetch can read for ttl.
	SignedURL(ctx context.Context, fileURL string, ttl time.Duration) (string, error)
}

// objectKey is invoices/YYYY/MM/DD/<uuid><ext>, keeping the original extension.
func objectKey(fileName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filepath.Base(fileName)))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("invoices/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}

// Fetch reads a document from a file:// or http(s):// URL, refusing more than maxBytes.
func Fetch(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse document url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
		body = f
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build document request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download document: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("download document: unexpected status %d", resp.StatusCode)
		}
		body = resp.Body
	default:
		return nil, fmt.Errorf("unsupported document url scheme %q", u.Scheme)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
