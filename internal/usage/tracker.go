package usage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/siteurl"
)

const (
	// DefaultMinTrackTime is the minimum elapsed time worth attributing.
	// Anything shorter is rapid tab-switching noise.
	DefaultMinTrackTime = 1 * time.Second

	// DefaultMaxSessionGap is the sanity ceiling on a single attribution.
	// An elapsed time past it means a missed suspend or a restarted
	// browser, not a day-long visit.
	DefaultMaxSessionGap = 24 * time.Hour
)

// TabResolver resolves a tab ID to its current URL. Resolution fails when
// the tab is gone or was never seen.
type TabResolver interface {
	TabURL(tabID int) (string, error)
}

// Blocklist answers whether a URL is blocked. Blocked sites never
// accumulate time.
type Blocklist interface {
	IsBlocked(rawURL string) bool
}

// Tracker is the tracking state machine. It is either idle or tracking one
// tab since a start instant; every transition out of the tracking state
// first flushes the elapsed time of the previous session.
type Tracker struct {
	store     *Store
	blocklist Blocklist
	tabs      TabResolver
	clock     Clock
	logger    zerolog.Logger

	minTrackTime  time.Duration
	maxSessionGap time.Duration

	// Session state. Handlers are serialized by mu, so no handler
	// observes a half-applied transition: the flush of the previous
	// session always completes before the next state is installed.
	mu          sync.Mutex
	activeTabID int
	startedAt   time.Time
}

// Config holds tracker configuration
type Config struct {
	MinTrackTime  time.Duration
	MaxSessionGap time.Duration
}

// NewTracker creates a new tracker in the idle state.
func NewTracker(store *Store, blocklist Blocklist, tabs TabResolver, config Config, clock Clock, logger zerolog.Logger) *Tracker {
	if config.MinTrackTime == 0 {
		config.MinTrackTime = DefaultMinTrackTime
	}
	if config.MaxSessionGap == 0 {
		config.MaxSessionGap = DefaultMaxSessionGap
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Tracker{
		store:         store,
		blocklist:     blocklist,
		tabs:          tabs,
		clock:         clock,
		logger:        logger.With().Str("component", "tracker").Logger(),
		minTrackTime:  config.MinTrackTime,
		maxSessionGap: config.MaxSessionGap,
	}
}

// OnTabActivated handles a tab gaining focus within the focused window.
func (t *Tracker) OnTabActivated(tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
	t.startSession(tabID)
}

// OnActiveTabUpdated handles the active tab navigating to a new URL.
// Navigations to non-web URLs do not restart the session.
func (t *Tracker) OnActiveTabUpdated(tabID int, url string) {
	if !siteurl.IsHTTP(url) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
	t.startSession(tabID)
}

// OnWindowFocusLost handles the browser losing focus entirely.
func (t *Tracker) OnWindowFocusLost() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
	t.activeTabID = 0
	t.startedAt = time.Time{}
}

// OnWindowFocusGained handles the browser regaining focus with the given
// active tab.
func (t *Tracker) OnWindowFocusGained(tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
	t.startSession(tabID)
}

// OnSuspend handles imminent termination: flush the current session and
// force a final durable write. There is no guarantee this ever runs.
func (t *Tracker) OnSuspend() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
}

func (t *Tracker) startSession(tabID int) {
	t.activeTabID = tabID
	t.startedAt = t.clock.Now()
}

// flush computes and commits elapsed time for the current session. It
// attributes at most once per transition and fabricates nothing: any
// anomaly (missing tab, blocked site, implausible clock) discards the
// interval instead.
func (t *Tracker) flush() {
	if t.activeTabID == 0 || t.startedAt.IsZero() {
		return
	}

	url, err := t.tabs.TabURL(t.activeTabID)
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("tab_gone").Inc()
		return
	}

	if !siteurl.IsHTTP(url) {
		metrics.FlushesTotal.WithLabelValues("non_http").Inc()
		return
	}

	if t.blocklist != nil && t.blocklist.IsBlocked(url) {
		metrics.FlushesTotal.WithLabelValues("blocked").Inc()
		return
	}

	identity := siteurl.Normalize(url)
	if identity == "" {
		metrics.FlushesTotal.WithLabelValues("unparseable").Inc()
		return
	}

	now := t.clock.Now()
	if t.startedAt.After(now) {
		// Clock moved backwards. Restart the session rather than attribute
		// negative time.
		t.startedAt = now
		metrics.FlushesTotal.WithLabelValues("clock_skew").Inc()
		t.logger.Warn().Str("site", identity).Msg("Session start in the future, resetting")
		return
	}

	elapsed := int64(now.Sub(t.startedAt).Seconds())
	if elapsed > int64(t.maxSessionGap.Seconds()) {
		// Stale session from a missed suspend; the duration is clearly wrong.
		t.startedAt = now
		metrics.FlushesTotal.WithLabelValues("stale").Inc()
		t.logger.Warn().
			Str("site", identity).
			Int64("elapsed_seconds", elapsed).
			Msg("Implausible session length, discarding")
		return
	}

	if elapsed < int64(t.minTrackTime.Seconds()) {
		metrics.FlushesTotal.WithLabelValues("too_short").Inc()
		return
	}

	t.store.RecordTime(siteurl.DisplayName(identity), identity, elapsed)

	// The session continues; restart its clock so the interval is never
	// attributed twice.
	t.startedAt = now

	metrics.FlushesTotal.WithLabelValues("recorded").Inc()
	metrics.TrackedSecondsTotal.WithLabelValues(identity).Add(float64(elapsed))

	t.logger.Debug().
		Str("site", identity).
		Int64("seconds", elapsed).
		Msg("Attributed active time")
}
