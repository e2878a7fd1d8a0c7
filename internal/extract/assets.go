package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"invoice-recon/internal/core"
)

var reLanguage = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const downloadTimeout = 5 * time.Minute

// AssetCache keeps tesseract language models on disk, downloading each language once.
type AssetCache struct {
	dir     string
	baseURL string
	client  *http.Client
	group   singleflight.Group
	log     zerolog.Logger
}

// NewAssetCache stores models under dir and fetches missing ones from
// <baseURL>/<lang>.traineddata. A nil client uses http.DefaultClient.
func NewAssetCache(dir, baseURL string, client *http.Client, log zerolog.Logger) *AssetCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &AssetCache{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.With().Str("component", "ocr_assets").Logger(),
	}
}

// Dir is the directory passed to tesseract as --tessdata-dir.
func (c *AssetCache) Dir() string { return c.dir }

func (c *AssetCache) path(lang string) string {
	return filepath.Join(c.dir, lang+".traineddata")
}

func (c *AssetCache) cached(lang string) bool {
	fi, err := os.Stat(c.path(lang))
	return err == nil && fi.Size() > 0
}

// Ensure makes the model for lang available and returns the cache directory.
// Concurrent first calls for the same language share a single download. The download
// is not tied to any one caller, so a cancelled caller does not fail the others.
func (c *AssetCache) Ensure(ctx context.Context, lang string) (string, error) {
	if !reLanguage.MatchString(lang) {
		return "", core.Errorf(core.KindAssetUnavailable, "invalid OCR language %q", lang)
	}
	if c.cached(lang) {
		return c.dir, nil
	}
	ch := c.group.DoChan(lang, func() (any, error) {
		if c.cached(lang) {
			return nil, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
		defer cancel()
		return nil, c.download(dctx, lang)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return c.dir, nil
	case <-ctx.Done():
		return "", core.Errorf(core.KindAssetUnavailable, "waiting for OCR language %q: %w", lang, ctx.Err())
	}
}

func (c *AssetCache) download(ctx context.Context, lang string) error {
	if c.baseURL == "" {
		return core.Errorf(core.KindAssetUnavailable, "OCR language %q is not cached and no download URL is configured", lang)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return core.Errorf(core.KindAssetUnavailable, "create OCR cache dir: %w", err)
	}

	url := fmt.Sprintf("%s/%s.traineddata", c.baseURL, lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.Errorf(core.KindAssetUnavailable, "build request for %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return core.Errorf(core.KindAssetUnavailable, "download OCR language %q: %w", lang, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.Errorf(core.KindAssetUnavailable, "download OCR language %q: unexpected status %d", lang, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, lang+".*.part")
	if err != nil {
		return core.Errorf(core.KindAssetUnavailable, "create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Errorf(core.KindAssetUnavailable, "write OCR language %q: %w", lang, err)
	}
	if n == 0 {
		return core.Errorf(core.KindAssetUnavailable, "download OCR language %q: empty body", lang)
	}
	if err := os.Rename(tmp.Name(), c.path(lang)); err != nil {
		return core.Errorf(core.KindAssetUnavailable, "install OCR language %q: %w", lang, err)
	}

	c.log.Info().Str("language", lang).Int64("bytes", n).Msg("OCR language model downloaded")
	return nil
}
