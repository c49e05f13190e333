package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/storage"
)

// memSiteData is an in-memory SiteDataStore. Saves run from the store's
// async persist goroutine, so it must be safe for concurrent use.
type memSiteData struct {
	mu       sync.Mutex
	snapshot *storage.SiteDataSnapshot
}

func (m *memSiteData) Save(_ context.Context, snapshot storage.SiteDataSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snapshot
	return nil
}

func (m *memSiteData) Load(_ context.Context) (*storage.SiteDataSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, storage.ErrNotFound
	}
	return m.snapshot, nil
}

func newTestStore(t *testing.T, maxEntries int) (*Store, *memSiteData, *TestClock) {
	t.Helper()

	siteData := &memSiteData{}
	clock := &TestClock{CurrentTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(siteData, maxEntries, clock, zerolog.Nop())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load empty buffer: %v", err)
	}
	return store, siteData, clock
}

func TestRecordTimeAccumulates(t *testing.T) {
	store, _, clock := newTestStore(t, 0)

	store.RecordTime("github", "github.com", 60)
	clock.Advance(time.Minute)
	store.RecordTime("github", "github.com", 30)

	records := store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].TimeSpent != 90 {
		t.Errorf("expected 90 seconds accumulated, got %d", records[0].TimeSpent)
	}
	if records[0].VisitCount != 2 {
		t.Errorf("expected visit count 2, got %d", records[0].VisitCount)
	}
	if !records[0].LastVisited.Equal(clock.Now()) {
		t.Errorf("expected last visited %v, got %v", clock.Now(), records[0].LastVisited)
	}
}

func TestRecordTimeIgnoresInvalidInput(t *testing.T) {
	store, _, _ := newTestStore(t, 0)

	store.RecordTime("", "github.com", 60)
	store.RecordTime("github", "", 60)
	store.RecordTime("github", "github.com", 0)
	store.RecordTime("github", "github.com", -5)

	if records := store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected empty buffer, got %d records", len(records))
	}
}

func TestRecordTimeCeilingReset(t *testing.T) {
	store, _, _ := newTestStore(t, 0)

	store.RecordTime("github", "github.com", storage.MaxAccumulatedSeconds)
	store.RecordTime("github", "github.com", 42)

	records := store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// Accumulation would exceed the ceiling, so only the latest slice is kept.
	if records[0].TimeSpent != 42 {
		t.Errorf("expected time reset to 42, got %d", records[0].TimeSpent)
	}
	if records[0].VisitCount != 2 {
		t.Errorf("expected visit count 2, got %d", records[0].VisitCount)
	}
}

func TestEvictionDropsLeastRecentlyVisited(t *testing.T) {
	store, _, clock := newTestStore(t, 2)

	store.RecordTime("oldest", "oldest.com", 10)
	clock.Advance(time.Minute)
	store.RecordTime("middle", "middle.com", 10)
	clock.Advance(time.Minute)
	store.RecordTime("newest", "newest.com", 10)

	records := store.Snapshot()
	if len(records) != 2 {
		t.Fatalf("expected 2 records after eviction, got %d", len(records))
	}
	for _, record := range records {
		if record.SiteURL == "oldest.com" {
			t.Fatal("expected oldest.com to be evicted")
		}
	}
}

func TestSnapshotOrderedByLastVisited(t *testing.T) {
	store, _, clock := newTestStore(t, 0)

	store.RecordTime("first", "first.com", 10)
	clock.Advance(time.Hour)
	store.RecordTime("second", "second.com", 10)
	clock.Advance(time.Hour)
	store.RecordTime("third", "third.com", 10)

	records := store.Snapshot()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []string{"first.com", "second.com", "third.com"}
	for i, url := range want {
		if records[i].SiteURL != url {
			t.Errorf("position %d: expected %s, got %s", i, url, records[i].SiteURL)
		}
	}
}

func TestClearPersistsEmptyState(t *testing.T) {
	store, siteData, _ := newTestStore(t, 0)

	store.RecordTime("github", "github.com", 60)

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if records := store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected empty buffer after clear, got %d records", len(records))
	}

	persisted, err := siteData.Load(context.Background())
	if err != nil {
		t.Fatalf("load persisted snapshot: %v", err)
	}
	if len(persisted.Records) != 0 {
		t.Fatalf("expected persisted snapshot empty, got %d records", len(persisted.Records))
	}
}

func TestSnapshotDoesNotAdvanceLastUpdated(t *testing.T) {
	store, _, clock := newTestStore(t, 0)

	store.RecordTime("github", "github.com", 60)
	recorded := store.LastUpdated()
	if !recorded.Equal(clock.Now()) {
		t.Fatalf("expected lastUpdated stamped at %v, got %v", clock.Now(), recorded)
	}

	clock.Advance(time.Hour)
	store.Snapshot()

	if got := store.LastUpdated(); !got.Equal(recorded) {
		t.Errorf("expected lastUpdated unchanged at %v after snapshot, got %v", recorded, got)
	}

	if err := store.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if got := store.LastUpdated(); !got.Equal(recorded) {
		t.Errorf("expected lastUpdated unchanged at %v after persist, got %v", recorded, got)
	}

	// Clear is a mutation and stamps.
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := store.LastUpdated(); !got.Equal(clock.Now()) {
		t.Errorf("expected lastUpdated %v after clear, got %v", clock.Now(), got)
	}
}

func TestStalePersistDoesNotOverwriteNewerState(t *testing.T) {
	store, siteData, _ := newTestStore(t, 0)

	store.mu.Lock()
	stale, staleGen := store.snapshotLocked()
	store.mu.Unlock()

	store.RecordTime("github", "github.com", 60)
	if err := store.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// A write that lost the race must not clobber the newer durable state.
	if err := store.persist(context.Background(), stale, staleGen); err != nil {
		t.Fatalf("stale persist: %v", err)
	}

	persisted, err := siteData.Load(context.Background())
	if err != nil {
		t.Fatalf("load persisted snapshot: %v", err)
	}
	if len(persisted.Records) != 1 || persisted.Records[0].SiteURL != "github.com" {
		t.Fatalf("expected newer snapshot to remain durable, got %+v", persisted.Records)
	}
}

func TestLoadDropsMalformedRecords(t *testing.T) {
	siteData := &memSiteData{
		snapshot: &storage.SiteDataSnapshot{
			Records: []storage.SiteUsageRecord{
				{SiteName: "github", SiteURL: "github.com", TimeSpent: 60, VisitCount: 1},
				{SiteName: "", SiteURL: "broken.com", TimeSpent: 10, VisitCount: 1},
				{SiteName: "negative", SiteURL: "negative.com", TimeSpent: -1, VisitCount: 1},
				{SiteName: "huge", SiteURL: "huge.com", TimeSpent: storage.MaxAccumulatedSeconds + 1, VisitCount: 1},
			},
			LastUpdated: time.Now(),
		},
	}

	store := NewStore(siteData, 0, &TestClock{CurrentTime: time.Now()}, zerolog.Nop())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	records := store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected only the valid record to survive, got %d", len(records))
	}
	if records[0].SiteURL != "github.com" {
		t.Errorf("expected github.com, got %s", records[0].SiteURL)
	}
}

func TestPersistWritesCurrentState(t *testing.T) {
	store, siteData, _ := newTestStore(t, 0)

	store.RecordTime("github", "github.com", 60)

	if err := store.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	persisted, err := siteData.Load(context.Background())
	if err != nil {
		t.Fatalf("load persisted snapshot: %v", err)
	}
	if len(persisted.Records) != 1 || persisted.Records[0].SiteURL != "github.com" {
		t.Fatalf("unexpected persisted records: %+v", persisted.Records)
	}
}
