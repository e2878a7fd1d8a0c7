package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// GCSStore keeps documents in a Cloud Storage bucket and signs V4 read URLs.
type GCSStore struct {
	client *storage.Client
	bucket string
	log    zerolog.Logger
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket string, log zerolog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket, log: log.With().Str("component", "gcs_store").Logger()}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) Put(ctx context.Context, fileName, contentType string, data []byte) (string, error) {
	key := objectKey(fileName, time.Now())
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Info().Str("object", key).Int("bytes", len(data)).Msg("document stored")
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSStore) SignedURL(_ context.Context, fileURL string, ttl time.Duration) (string, error) {
	bucket, key, err := splitGSURL(fileURL)
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("document %q is not in bucket %s", fileURL, s.bucket)
	}
	signed, err := s.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", fileURL, err)
	}
	return signed, nil
}

func splitGSURL(fileURL string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(fileURL, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// url: %q", fileURL)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed gs:// url: %q", fileURL)
	}
	return bucket, key, nil
}
