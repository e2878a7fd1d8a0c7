// Package extract turns uploaded invoice documents into text, falling back to OCR when
// embedded text is missing or does not look like an invoice.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoice-recon/internal/core"
)

const (
	MethodNative = "native"
	MethodOCR    = "ocr"

	// DefaultMinNativeChars is the shortest native text accepted without trying OCR.
	DefaultMinNativeChars = 40
	defaultOCRTimeout     = 30 * time.Second
	rasterDPI             = 300
)

// Config configures the OCR tools and fallback policy.
type Config struct {
	TesseractPath  string
	PdftoppmPath   string
	Language       string
	Timeout        time.Duration
	MinNativeChars int
	Thresholds     core.Thresholds
}

// Options adjust a single extraction.
type Options struct {
	// ForceOCR skips embedded text. Used when re-extracting a document whose native
	// text turned out to be useless.
	ForceOCR bool
	// Language overrides the configured OCR language.
	Language string
}

// Result is the extracted text with its validation.
type Result struct {
	Text       string
	Confidence float64
	Method     string
	Analysis   core.TextAnalysis
	// Warning describes a failed OCR attempt whose native result was kept instead.
	Warning string
}

type Extractor struct {
	cfg    Config
	assets *AssetCache
	runner Runner
	log    zerolog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the process runner used for tesseract and pdftoppm.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func NewExtractor(cfg Config, assets *AssetCache, log zerolog.Logger, opts ...Option) *Extractor {
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOCRTimeout
	}
	if cfg.MinNativeChars <= 0 {
		cfg.MinNativeChars = DefaultMinNativeChars
	}
	if cfg.Thresholds == (core.Thresholds{}) {
		cfg.Thresholds = core.DefaultThresholds
	}
	e := &Extractor{
		cfg:    cfg,
		assets: assets,
		log:    log.With().Str("component", "extractor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = NewExecRunner(log)
	}
	return e
}

// Extract returns the best text obtainable from data. Native text is tried first; OCR
// runs when it is empty, too short or flagged by the validator, and the higher-scoring
// of the two results wins.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string, opts Options) (*Result, error) {
	m := NormalizeMIME(mimeType)
	if !SupportedMIME(m) {
		return nil, core.Errorf(core.KindExtractionFailed, "unsupported document type %q", mimeType)
	}

	var native *Result
	if !opts.ForceOCR || isTextMIME(m) {
		text, err := nativeText(data, m)
		if err != nil {
			return nil, err
		}
		native = e.result(text, MethodNative)
		if isTextMIME(m) || !e.needsOCR(native) {
			return native, nil
		}
		e.log.Debug().Int("chars", len(native.Text)).Float64("confidence", native.Confidence).
			Msg("native text insufficient, trying OCR")
	}

	lang := opts.Language
	if lang == "" {
		lang = e.cfg.Language
	}
	text, err := e.ocr(ctx, data, m, lang)
	if err != nil {
		if native == nil || native.Text == "" {
			return nil, err
		}
		e.log.Warn().Err(err).Msg("OCR failed, keeping native text")
		native.Warning = err.Error()
		return native, nil
	}

	ocr := e.result(text, MethodOCR)
	if native != nil && native.Confidence > ocr.Confidence {
		return native, nil
	}
	return ocr, nil
}

func (e *Extractor) result(text, method string) *Result {
	text = Normalize(text)
	a := Validate(text, e.cfg.Thresholds)
	return &Result{Text: text, Confidence: a.ValidationConfidence, Method: method, Analysis: a}
}

func (e *Extractor) needsOCR(r *Result) bool {
	return len([]rune(r.Text)) < e.cfg.MinNativeChars || r.Analysis.NeedsOCR
}

// ocr rasterizes PDFs with pdftoppm and runs tesseract on every page image. The whole
// attempt shares one deadline.
func (e *Extractor) ocr(ctx context.Context, data []byte, m, lang string) (string, error) {
	if e.assets == nil {
		return "", core.Errorf(core.KindAssetUnavailable, "no OCR language cache configured")
	}
	tessdata, err := e.assets.Ensure(ctx, lang)
	if err != nil {
		return "", err
	}
	ext, err := ocrInputExt(m)
	if err != nil {
		return "", core.Errorf(core.KindExtractionFailed, "%w", err)
	}

	tmp, err := os.MkdirTemp("", "invoice-ocr-*")
	if err != nil {
		return "", core.Errorf(core.KindExtractionFailed, "create OCR workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			e.log.Warn().Err(err).Str("dir", tmp).Msg("failed to remove OCR workspace")
		}
	}()

	input := filepath.Join(tmp, "input"+ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", core.Errorf(core.KindExtractionFailed, "write OCR input: %w", err)
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	start := time.Now()

	images := []string{input}
	if m == MIMEPDF {
		prefix := filepath.Join(tmp, "page")
		if _, err := e.runner.Run(octx, e.cfg.PdftoppmPath, "-r", fmt.Sprint(rasterDPI), "-png", input, prefix); err != nil {
			return "", e.ocrError(ctx, octx, "pdftoppm", err)
		}
		images, _ = filepath.Glob(prefix + "-*.png")
		sort.Strings(images)
		if len(images) == 0 {
			return "", core.Errorf(core.KindExtractionFailed, "pdftoppm produced no page images")
		}
	}

	pages := make([]string, 0, len(images))
	for _, img := range images {
		out, err := e.runner.Run(octx, e.cfg.TesseractPath, img, "stdout", "-l", lang, "--tessdata-dir", tessdata)
		if err != nil {
			return "", e.ocrError(ctx, octx, "tesseract", err)
		}
		pages = append(pages, string(out))
	}

	e.log.Info().Str("mime_type", m).Int("pages", len(pages)).Str("language", lang).
		Dur("duration", time.Since(start)).Msg("OCR completed")
	return strings.Join(pages, "\n\n"), nil
}

// ocrError separates the OCR budget running out from caller cancellation and tool crashes.
func (e *Extractor) ocrError(parent, octx context.Context, tool string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", tool, parent.Err())
	}
	if errors.Is(octx.Err(), context.DeadlineExceeded) {
		return core.Errorf(core.KindExtractionTimeout, "%s exceeded the %s OCR budget", tool, e.cfg.Timeout)
	}
	return core.Errorf(core.KindExtractionFailed, "%s failed: %w", tool, err)
}
