package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull     = errors.New("processing queue is full")
	ErrQueueShutdown = errors.New("processing queue is shutting down")
)

// ProcessFunc runs the pipeline for one invoice.
type ProcessFunc func(ctx context.Context, invoiceID int) (*ProcessResult, error)

// Processor runs ProcessFunc for queued invoices on a fixed pool of workers. An invoice
// is never queued or processed twice concurrently.
type Processor struct {
	log     zerolog.Logger
	workers int
	timeout time.Duration
	size    int

	ch   chan int
	wg   sync.WaitGroup
	once sync.Once

	mu       sync.Mutex
	closed   bool
	inflight map[int]struct{}
}

type ProcessorOption func(*Processor)

func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.size = n
		}
	}
}

func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewProcessor(log zerolog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		log:      log.With().Str("component", "processor").Logger(),
		workers:  4,
		timeout:  2 * time.Minute,
		size:     100,
		inflight: map[int]struct{}{},
	}
	for _, o := range opts {
		o(p)
	}
	p.ch = make(chan int, p.size)
	return p
}

// Start launches the workers. Jobs run under ctx plus the per-job timeout; calling
// Start more than once has no effect.
func (p *Processor) Start(ctx context.Context, fn ProcessFunc) {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				for id := range p.ch {
					p.handle(ctx, fn, workerID, id)
				}
				p.log.Debug().Int("worker_id", workerID).Msg("worker stopped")
			}(i + 1)
		}
		p.log.Info().Int("workers", p.workers).Int("queue_size", p.size).Dur("job_timeout", p.timeout).
			Msg("processor started")
	})
}

func (p *Processor) handle(ctx context.Context, fn ProcessFunc, workerID, invoiceID int) {
	defer p.done(invoiceID)
	jctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := fn(jctx, invoiceID)
	if err != nil {
		p.log.Error().Err(err).Int("worker_id", workerID).Int("invoice_id", invoiceID).Msg("processing failed")
		return
	}
	p.log.Info().Int("worker_id", workerID).Int("invoice_id", invoiceID).Str("stage", res.Stage).
		Msg("invoice processed")
}

func (p *Processor) done(invoiceID int) {
	p.mu.Lock()
	delete(p.inflight, invoiceID)
	p.mu.Unlock()
}

// Enqueue queues an invoice. An invoice that is already queued or running is accepted
// without queuing it again. A full queue is reported rather than blocking the caller.
func (p *Processor) Enqueue(invoiceID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueShutdown
	}
	if _, ok := p.inflight[invoiceID]; ok {
		return nil
	}
	select {
	case p.ch <- invoiceID:
		p.inflight[invoiceID] = struct{}{}
		p.log.Debug().Int("invoice_id", invoiceID).Msg("invoice queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued jobs to drain or ctx to end.
func (p *Processor) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.log.Warn().Msg("shutdown interrupted before the queue drained")
	case <-done:
		p.log.Info().Msg("queue drained")
	}
}
