// Package blocklist maintains the in-memory set of blocked site identities.
// The set is sourced from the remote backend and degrades to a fixed
// default list whenever the remote is unreachable or returns nothing.
package blocklist

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/api"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/siteurl"
)

// decisionCacheSize bounds the per-URL block decision cache.
const decisionCacheSize = 1024

// Fetcher retrieves the remote blocked-site list.
type Fetcher interface {
	FetchBlockedSites(ctx context.Context) ([]api.BlockedSite, error)
}

// RuleApplier installs enforcement rules for a set of site identities.
type RuleApplier interface {
	Apply(ctx context.Context, identities []string) error
}

// Cache holds the current blocked-site set.
type Cache struct {
	fetcher  Fetcher
	applier  RuleApplier
	defaults []string
	logger   zerolog.Logger

	mu        sync.RWMutex
	current   map[string]struct{}
	decisions *lru.Cache[string, bool]
}

// New creates a blocklist cache seeded with the default set. Refresh must be
// called to pick up the remote list; until then (and whenever the remote
// fails) the defaults apply.
func New(fetcher Fetcher, applier RuleApplier, defaults []string, logger zerolog.Logger) *Cache {
	decisions, _ := lru.New[string, bool](decisionCacheSize)

	c := &Cache{
		fetcher:   fetcher,
		applier:   applier,
		defaults:  normalizeAll(defaults),
		logger:    logger.With().Str("component", "blocklist").Logger(),
		current:   make(map[string]struct{}),
		decisions: decisions,
	}
	for _, identity := range c.defaults {
		c.current[identity] = struct{}{}
	}
	return c
}

// Refresh fetches the remote blocked-site list and replaces the current set.
// Fetch failures and empty results fall back to the defaults; the cache
// update itself never fails. The returned error is solely the rule
// applier's, surfaced after the set has been committed.
func (c *Cache) Refresh(ctx context.Context) error {
	identities, source := c.fetchRemote(ctx)
	metrics.BlocklistRefreshes.WithLabelValues(source).Inc()

	c.replace(identities)

	c.logger.Info().
		Str("source", source).
		Int("entries", len(identities)).
		Msg("Blocklist refreshed")

	return c.applyRules(ctx)
}

// ResetToDefaults discards any remote-sourced entries and reinstalls the
// default set. Used on logout.
func (c *Cache) ResetToDefaults(ctx context.Context) error {
	c.replace(c.defaults)
	metrics.BlocklistRefreshes.WithLabelValues("defaults").Inc()

	c.logger.Info().Int("entries", len(c.defaults)).Msg("Blocklist reset to defaults")

	return c.applyRules(ctx)
}

// IsBlocked reports whether a raw URL matches the blocked set. Matching is
// deliberately loose: exact identity, display-name, or subdomain suffix in
// either direction. Unparseable URLs are never blocked.
func (c *Cache) IsBlocked(rawURL string) bool {
	if cached, ok := c.decisions.Get(rawURL); ok {
		return cached
	}

	blocked := c.isBlocked(rawURL)
	c.decisions.Add(rawURL, blocked)

	if blocked {
		metrics.BlockedLookups.Inc()
	}
	return blocked
}

// Snapshot returns the current set as a sorted slice.
func (c *Cache) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	identities := make([]string, 0, len(c.current))
	for identity := range c.current {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

func (c *Cache) isBlocked(rawURL string) bool {
	identity := siteurl.Normalize(rawURL)
	if identity == "" {
		return false
	}
	name := siteurl.DisplayName(identity)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.current[identity]; ok {
		return true
	}
	if _, ok := c.current[name]; ok {
		return true
	}
	for entry := range c.current {
		// Suffix match both ways catches multi-level subdomains of either
		// the entry or the visited host.
		if strings.HasSuffix(identity, "."+entry) || strings.HasSuffix(entry, "."+identity) {
			return true
		}
	}
	return false
}

// fetchRemote returns the normalized remote list, or the defaults with the
// reason as source label.
func (c *Cache) fetchRemote(ctx context.Context) ([]string, string) {
	if c.fetcher == nil {
		return c.defaults, "defaults"
	}

	sites, err := c.fetcher.FetchBlockedSites(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Remote blocklist fetch failed, using defaults")
		return c.defaults, "defaults"
	}

	identities := make([]string, 0, len(sites))
	for _, site := range sites {
		identity := siteurl.Normalize(site.SiteURL)
		if identity == "" {
			c.logger.Debug().Str("siteurl", site.SiteURL).Msg("Dropping unparseable blocklist entry")
			continue
		}
		identities = append(identities, identity)
	}

	if len(identities) == 0 {
		c.logger.Warn().Msg("Remote blocklist empty, using defaults")
		return c.defaults, "defaults"
	}

	return identities, "remote"
}

func (c *Cache) replace(identities []string) {
	next := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		next[identity] = struct{}{}
	}

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()

	// Decisions made against the old set are stale.
	c.decisions.Purge()
}

func (c *Cache) applyRules(ctx context.Context) error {
	if c.applier == nil {
		return nil
	}
	if err := c.applier.Apply(ctx, c.Snapshot()); err != nil {
		c.logger.Error().Err(err).Msg("Failed to apply blocking rules")
		return err
	}
	return nil
}

func normalizeAll(raw []string) []string {
	identities := make([]string, 0, len(raw))
	for _, entry := range raw {
		if identity := siteurl.Normalize(entry); identity != "" {
			identities = append(identities, identity)
		}
	}
	return identities
}
