// Package seed rebuilds the medicine reference catalog from the RxTerms
// search service and schedules periodic refreshes.
package seed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pharmanear/m/domain"
	"pharmanear/m/internal/medicines"
	"pharmanear/m/internal/metrics"
)

// ErrReloadInProgress is returned when a reload is requested while another
// one is still running.
var ErrReloadInProgress = errors.New("catalog reload already in progress")

// ErrReloaderClosed is returned by Run after Shutdown.
var ErrReloaderClosed = errors.New("catalog reloader is shut down")

var errEmptyCatalog = errors.New("catalog source returned no medicines")

// Fetcher returns the catalog entries for one starting letter.
type Fetcher interface {
	FetchLetter(ctx context.Context, letter string) ([]domain.Medicine, error)
}

// Catalog is the store the loader swaps the fetched catalog into.
type Catalog interface {
	Replace(ctx context.Context, entries []domain.Medicine) (int, error)
}

// Result summarises one successful reload.
type Result struct {
	Fetched  int
	Stored   int
	Duration time.Duration
}

// Loader fetches the full catalog and replaces the stored one.
type Loader struct {
	fetcher Fetcher
	catalog Catalog
	logger  zerolog.Logger
	letters []string
}

// NewLoader constructs a Loader that walks the letters A through Z.
func NewLoader(fetcher Fetcher, catalog Catalog, logger zerolog.Logger) *Loader {
	letters := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		letters = append(letters, string(c))
	}
	return &Loader{
		fetcher: fetcher,
		catalog: catalog,
		logger:  logger.With().Str("component", "seed").Logger(),
		letters: letters,
	}
}

// Reload fetches every letter and, only if all of them succeed, replaces
// the catalog in a single transaction. On failure the stored catalog is left
// as it was and a CatalogLoadFailed error is returned.
func (l *Loader) Reload(ctx context.Context) (Result, error) {
	start := time.Now()
	ctx = l.logger.WithContext(ctx)
	l.logger.Info().Msg("catalog reload started")

	var (
		fetched int
		order   []string
		byName  = make(map[string]domain.Medicine)
	)
	for _, letter := range l.letters {
		meds, err := l.fetcher.FetchLetter(ctx, letter)
		if err != nil {
			l.logger.Error().Err(err).Str("letter", letter).Msg("catalog reload aborted")
			metrics.CatalogReloads.WithLabelValues("failure").Inc()
			return Result{}, domain.CatalogLoadFailed(err)
		}
		fetched += len(meds)
		for _, m := range meds {
			key := medicines.Canonical(m.Name)
			if key == "" {
				continue
			}
			if _, seen := byName[key]; !seen {
				order = append(order, key)
			}
			byName[key] = m
		}
		l.logger.Debug().Str("letter", letter).Int("count", len(meds)).Msg("catalog letter fetched")
	}

	if len(order) == 0 {
		l.logger.Error().Int("fetched", fetched).Msg("catalog reload aborted, refusing to store an empty catalog")
		metrics.CatalogReloads.WithLabelValues("failure").Inc()
		return Result{}, domain.CatalogLoadFailed(errEmptyCatalog)
	}

	entries := make([]domain.Medicine, 0, len(order))
	for _, key := range order {
		entries = append(entries, byName[key])
	}

	stored, err := l.catalog.Replace(ctx, entries)
	if err != nil {
		l.logger.Error().Err(err).Msg("catalog replace failed")
		metrics.CatalogReloads.WithLabelValues("failure").Inc()
		return Result{}, err
	}

	res := Result{Fetched: fetched, Stored: stored, Duration: time.Since(start)}
	metrics.CatalogReloads.WithLabelValues("success").Inc()
	metrics.CatalogMedicines.Set(float64(stored))
	l.logger.Info().Int("fetched", res.Fetched).Int("stored", res.Stored).Dur("duration", res.Duration).Msg("catalog reload completed")
	return res, nil
}

// Reloader serialises reloads: at most one runs at a time and overlapping
// requests are refused rather than queued.
type Reloader struct {
	loader  *Loader
	running atomic.Bool
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	// done is cancelled by Shutdown and aborts the reload in flight.
	done   context.Context
	cancel context.CancelFunc
}

// NewReloader wraps loader with a single-flight guard.
func NewReloader(loader *Loader) *Reloader {
	done, cancel := context.WithCancel(context.Background())
	return &Reloader{loader: loader, timeout: 30 * time.Minute, done: done, cancel: cancel}
}

// acquire claims the single reload slot and registers it with wg.
func (r *Reloader) acquire() error {
	if !r.running.CompareAndSwap(false, true) {
		metrics.CatalogReloads.WithLabelValues("skipped").Inc()
		return ErrReloadInProgress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.running.Store(false)
		return ErrReloaderClosed
	}
	r.wg.Add(1)
	return nil
}

func (r *Reloader) release() {
	r.running.Store(false)
	r.wg.Done()
}

// Run reloads synchronously, or returns ErrReloadInProgress.
func (r *Reloader) Run(ctx context.Context) (Result, error) {
	if err := r.acquire(); err != nil {
		return Result{}, err
	}
	defer r.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.done, cancel)
	defer stop()
	return r.loader.Reload(ctx)
}

// Trigger starts a reload in the background and reports whether it was
// started. The reload outlives ctx's cancellation but keeps its values.
func (r *Reloader) Trigger(ctx context.Context) bool {
	if r.acquire() != nil {
		return false
	}
	go func() {
		defer r.release()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		stop := context.AfterFunc(r.done, cancel)
		defer stop()
		// Failures are logged and counted by the loader.
		_, _ = r.loader.Reload(bg)
	}()
	return true
}

// Running reports whether a reload is in progress.
func (r *Reloader) Running() bool {
	return r.running.Load()
}

// Wait blocks until reloads in flight have finished.
func (r *Reloader) Wait() {
	r.wg.Wait()
}

// Shutdown cancels the reload in flight, waits for it to roll back and
// refuses every later Run or Trigger.
func (r *Reloader) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
