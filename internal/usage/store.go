package usage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/storage"
)

const (
	// DefaultMaxSiteEntries bounds the local usage buffer.
	DefaultMaxSiteEntries = 1000

	// persistTimeout bounds a single durable write.
	persistTimeout = 5 * time.Second
)

// Store is the local usage buffer: the in-memory site collection backed by
// one wholesale durable snapshot. Mutations never fail outward; a broken
// storage backend degrades to in-memory-only tracking.
type Store struct {
	siteData   storage.SiteDataStore
	maxEntries int
	clock      Clock
	logger     zerolog.Logger

	mu          sync.Mutex
	records     map[string]*storage.SiteUsageRecord // key: site identity
	lastUpdated time.Time
	gen         uint64 // bumped on every mutation

	persistMu    sync.Mutex
	persistedGen uint64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStore creates the usage buffer. Load must be called before first use.
func NewStore(siteData storage.SiteDataStore, maxEntries int, clock Clock, logger zerolog.Logger) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSiteEntries
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Store{
		siteData:    siteData,
		maxEntries:  maxEntries,
		clock:       clock,
		logger:      logger.With().Str("component", "usage-store").Logger(),
		records:     make(map[string]*storage.SiteUsageRecord),
		stopCleanup: make(chan struct{}),
	}
}

// Load reads the durable snapshot into memory. Malformed records are
// dropped, not repaired. A missing snapshot is an empty buffer.
func (s *Store) Load(ctx context.Context) error {
	snapshot, err := s.siteData.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for i := range snapshot.Records {
		record := snapshot.Records[i]
		if !record.Valid() {
			dropped++
			continue
		}
		s.records[record.SiteURL] = &record
	}
	s.lastUpdated = snapshot.LastUpdated

	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("Dropped malformed records during load")
	}
	s.logger.Info().Int("records", len(s.records)).Msg("Usage buffer loaded")

	return nil
}

// RecordTime adds an attributed time slice to a site's record, creating it
// on first visit. Accumulated time above the corruption ceiling is reset to
// the current slice. Persistence is asynchronous and best-effort.
func (s *Store) RecordTime(siteName, siteURL string, seconds int64) {
	if siteName == "" || siteURL == "" || seconds <= 0 {
		return
	}

	s.mu.Lock()

	record, ok := s.records[siteURL]
	if !ok {
		record = &storage.SiteUsageRecord{
			SiteName: siteName,
			SiteURL:  siteURL,
		}
		s.records[siteURL] = record
	}

	record.TimeSpent += seconds
	if record.TimeSpent > storage.MaxAccumulatedSeconds {
		// A value past the ceiling is corruption, not usage. Keep only the
		// slice we just observed.
		s.logger.Warn().
			Str("site", siteURL).
			Int64("accumulated", record.TimeSpent).
			Msg("Accumulated time past ceiling, resetting")
		record.TimeSpent = seconds
	}
	record.LastVisited = s.clock.Now()
	record.VisitCount++
	s.lastUpdated = record.LastVisited
	s.gen++

	s.evictLocked()
	snapshot, gen := s.snapshotLocked()

	s.mu.Unlock()

	s.persistAsync(snapshot, gen)
}

// Clear empties the collection and persists the empty state.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]*storage.SiteUsageRecord)
	s.lastUpdated = s.clock.Now()
	s.gen++
	snapshot, gen := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(ctx, snapshot, gen)
}

// Snapshot returns a read-only copy of all records, most-visited last
// (ascending LastVisited, ties broken by identity).
func (s *Store) Snapshot() []storage.SiteUsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, _ := s.snapshotLocked()
	return snapshot.Records
}

// LastUpdated reports when the buffer last changed.
func (s *Store) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// Persist synchronously writes the current state. Used for best-effort
// final persistence on suspend/shutdown.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	snapshot, gen := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(ctx, snapshot, gen)
}

// StartCleanup runs a periodic eviction/persist pass until Stop is called.
func (s *Store) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.evictLocked()
				snapshot, gen := s.snapshotLocked()
				s.mu.Unlock()
				s.persistAsync(snapshot, gen)
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// evictLocked drops least-recently-visited entries past the size bound.
// Must be called with the lock held.
func (s *Store) evictLocked() {
	excess := len(s.records) - s.maxEntries
	if excess <= 0 {
		return
	}

	byAge := make([]*storage.SiteUsageRecord, 0, len(s.records))
	for _, record := range s.records {
		byAge = append(byAge, record)
	}
	sort.Slice(byAge, func(i, j int) bool {
		if byAge[i].LastVisited.Equal(byAge[j].LastVisited) {
			return byAge[i].SiteURL < byAge[j].SiteURL
		}
		return byAge[i].LastVisited.Before(byAge[j].LastVisited)
	})

	for _, record := range byAge[:excess] {
		delete(s.records, record.SiteURL)
		metrics.SiteEntriesEvicted.Inc()
	}
	s.lastUpdated = s.clock.Now()
	s.gen++

	s.logger.Debug().Int("evicted", excess).Msg("Evicted least-recently-visited entries")
}

// snapshotLocked builds the durable representation of the current state,
// tagged with the mutation generation it reflects. Must be called with the
// lock held; never mutates.
func (s *Store) snapshotLocked() (storage.SiteDataSnapshot, uint64) {
	records := make([]storage.SiteUsageRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastVisited.Equal(records[j].LastVisited) {
			return records[i].SiteURL < records[j].SiteURL
		}
		return records[i].LastVisited.Before(records[j].LastVisited)
	})

	return storage.SiteDataSnapshot{
		Records:     records,
		LastUpdated: s.lastUpdated,
	}, s.gen
}

// persist writes a snapshot unless a newer generation is already durable.
// Writes are serialized so the durable state never moves backwards.
func (s *Store) persist(ctx context.Context, snapshot storage.SiteDataSnapshot, gen uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if gen <= s.persistedGen {
		return nil
	}

	if err := s.siteData.Save(ctx, snapshot); err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Error().Err(err).Msg("Failed to persist usage buffer")
		return err
	}
	s.persistedGen = gen
	return nil
}

func (s *Store) persistAsync(snapshot storage.SiteDataSnapshot, gen uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		_ = s.persist(ctx, snapshot, gen)
	}()
}
