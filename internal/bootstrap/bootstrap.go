// Package bootstrap builds the service graph shared by the server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"invoice-recon/internal/ai"
	"invoice-recon/internal/app"
	"invoice-recon/internal/config"
	"invoice-recon/internal/core"
	"invoice-recon/internal/db"
	"invoice-recon/internal/extract"
	"invoice-recon/internal/lock"
	"invoice-recon/internal/notify"
	"invoice-recon/internal/storage"
)

const (
	lockTTL         = 30 * time.Second
	lockWait        = 5 * time.Second
	downloadTimeout = time.Minute
)

// Runtime is a wired application. Close releases every connection it opened.
type Runtime struct {
	Service   app.ApplicationService
	Processor *app.Processor
	Pool      *pgxpool.Pool

	closers []func() error
	log     zerolog.Logger
}

// Options select how invoices are processed after upload.
type Options struct {
	// Inline runs the pipeline inside SubmitInvoice instead of on the worker pool.
	Inline bool
}

// Build connects to Postgres, Redis (when configured) and the document store and wires
// the services. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{log: log}
	if err := rt.wire(ctx, cfg, log, opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

	locker, notifier, err := rt.coordination(ctx, cfg, log)
	if err != nil {
		return err
	}

	store, err := rt.fileStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	th := cfg.Thresholds()
	client := &http.Client{Timeout: downloadTimeout}

	assets := extract.NewAssetCache(cfg.OCR.CacheDir, cfg.OCR.TessdataURL, client, log)
	extractor := extract.NewExtractor(extract.Config{
		TesseractPath: cfg.OCR.TesseractPath,
		PdftoppmPath:  cfg.OCR.PdftoppmPath,
		Language:      cfg.OCR.Language,
		Timeout:       cfg.OCR.Timeout,
		Thresholds:    th,
	}, assets, log, extract.WithRunner(extract.NewExecRunner(log)))

	if cfg.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set; parsing will fail")
	}
	parser, err := ai.NewOpenAIParser(cfg.OpenAIKey, cfg.OpenAIModel, log)
	if err != nil {
		return fmt.Errorf("parser: %w", err)
	}

	units, err := core.NewRuleEngine(pool).UnitTable(ctx)
	if err != nil {
		return fmt.Errorf("unit conversions: %w", err)
	}

	invoices := core.NewInvoiceService(pool, th, log)
	inventory := core.NewInventoryService(pool, locker, notifier, log)
	orders := core.NewPurchaseOrderService(pool, log)
	recon := core.NewReconciliationService(pool, invoices, inventory, orders, locker, units, th, log)
	catalog := core.NewCatalogService(pool)

	deps := app.Deps{
		Invoices:         invoices,
		Inventory:        inventory,
		Orders:           orders,
		Recon:            recon,
		Catalog:          catalog,
		Extractor:        extractor,
		Parser:           parser,
		Store:            store,
		Units:            units,
		Thresholds:       th,
		SignedURLTTL:     cfg.SignedURLTTL,
		MaxDocumentBytes: cfg.MaxUploadBytes,
		HTTPClient:       client,
		Log:              log,
	}
	if !opts.Inline {
		rt.Processor = app.NewProcessor(log,
			app.WithWorkers(cfg.ProcessorWorkers),
			app.WithQueueSize(cfg.ProcessorQueueSize),
			app.WithJobTimeout(cfg.ProcessorJobTimeout),
		)
		deps.Queue = rt.Processor
	}
	rt.Service = app.NewAppService(deps)
	return nil
}

// coordination returns Redis-backed locks and notifications when REDIS_ADDRESS is set,
// in-process equivalents otherwise.
func (rt *Runtime) coordination(ctx context.Context, cfg *config.Config, log zerolog.Logger) (core.Locker, core.AlertNotifier, error) {
	if cfg.RedisAddress == "" {
		log.Info().Msg("REDIS_ADDRESS not set; using in-process locks and log notifications")
		return lock.NewLocalLocker(lockWait), notify.NewLogNotifier(log), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	rt.closers = append(rt.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddress, err)
	}
	return lock.NewRedisLocker(rdb, lockTTL, lockWait), notify.NewRedisPublisher(rdb, "", log), nil
}

func (rt *Runtime) fileStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.FileStore, error) {
	if strings.EqualFold(cfg.StorageBackend, "gcs") {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, log)
		if err != nil {
			return nil, fmt.Errorf("gcs: %w", err)
		}
		rt.closers = append(rt.closers, gcs.Close)
		return gcs, nil
	}
	local, err := storage.NewLocalStore(cfg.LocalStorageDir)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return local, nil
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.log.Warn().Err(err).Msg("close failed")
		}
	}
	rt.closers = nil
}
