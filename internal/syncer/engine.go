// Package syncer pushes the buffered usage data to the remote backend when
// the user authenticates, then refreshes the blocklist and clears the
// buffer.
package syncer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/blocklist"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/usage"
)

// TimeLogger issues one remote log-time request.
type TimeLogger interface {
	LogTime(ctx context.Context, siteName, siteURL string, seconds int64) error
}

// Engine runs the login/logout sync sequence.
type Engine struct {
	store  *usage.Store
	cache  *blocklist.Cache
	client TimeLogger
	logger zerolog.Logger
	syncMu sync.Mutex
}

// Result is the aggregate outcome of one login sync.
type Result struct {
	Pushed  int `json:"pushed"`
	Failed  int `json:"failed"`
	Cleared int `json:"cleared"`
}

// NewEngine creates a sync engine.
func NewEngine(store *usage.Store, cache *blocklist.Cache, client TimeLogger, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		cache:  cache,
		client: client,
		logger: logger.With().Str("component", "syncer").Logger(),
	}
}

// OnLogin pushes every buffered record to the backend, refreshes the
// blocklist for the authenticated user, and clears the buffer.
//
// Pushes run concurrently and fail independently; failures are logged and
// counted, never retried. The buffer is cleared even when some pushes
// failed: there is no retry queue, so a failed entry's time is lost. The
// counts in the Result make that loss visible to the caller.
func (e *Engine) OnLogin(ctx context.Context) Result {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	records := e.store.Snapshot()

	var (
		mu     sync.Mutex
		pushed int
		failed int
		wg     sync.WaitGroup
	)

	for _, record := range records {
		wg.Add(1)
		go func(siteName, siteURL string, seconds int64) {
			defer wg.Done()

			if err := e.client.LogTime(ctx, siteName, siteURL, seconds); err != nil {
				e.logger.Warn().
					Err(err).
					Str("site", siteURL).
					Int64("seconds", seconds).
					Msg("Failed to push site usage, entry will be lost")
				metrics.SyncPushesTotal.WithLabelValues("error").Inc()

				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			metrics.SyncPushesTotal.WithLabelValues("ok").Inc()
			mu.Lock()
			pushed++
			mu.Unlock()
		}(record.SiteName, record.SiteURL, record.TimeSpent)
	}
	wg.Wait()

	// The authenticated user may have a personal blocklist; pick it up now.
	if err := e.cache.Refresh(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Blocking rules not fully applied after refresh")
	}

	if err := e.store.Clear(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist cleared buffer")
	}

	result := Result{Pushed: pushed, Failed: failed, Cleared: len(records)}

	if failed > 0 {
		metrics.SyncRunsTotal.WithLabelValues("partial").Inc()
	} else {
		metrics.SyncRunsTotal.WithLabelValues("ok").Inc()
	}

	e.logger.Info().
		Int("pushed", pushed).
		Int("failed", failed).
		Msg("Login sync complete")

	return result
}

// OnLogout resets the blocklist to the default set and reapplies blocking
// rules. Tracked-but-unsynced time is deliberately left in the buffer.
func (e *Engine) OnLogout(ctx context.Context) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if err := e.cache.ResetToDefaults(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Blocking rules not fully applied after logout reset")
	}

	e.logger.Info().Msg("Logout handled, blocklist reset to defaults")
}
