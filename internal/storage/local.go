package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps documents under a directory. Its URLs need no signing.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

func (s *LocalStore) Put(_ context.Context, fileName, _ string, data []byte) (string, error) {
	dest := filepath.Join(s.dir, filepath.FromSlash(objectKey(fileName, time.Now())))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o640); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}

// SignedURL returns fileURL unchanged after checking it points inside the store.
func (s *LocalStore) SignedURL(_ context.Context, fileURL string, _ time.Duration) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("not a local document url: %q", fileURL)
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	if !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("document %q is outside the store", fileURL)
	}
	return fileURL, nil
}
