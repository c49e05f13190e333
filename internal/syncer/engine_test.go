package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/blocklist"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/usage"
)

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

// fakeTimeLogger records pushes; failFor sites return an error. Pushes run
// concurrently, so it is mutex protected.
type fakeTimeLogger struct {
	mu      sync.Mutex
	pushes  map[string]int64
	failFor map[string]bool
}

func newFakeTimeLogger(failFor ...string) *fakeTimeLogger {
	fail := make(map[string]bool, len(failFor))
	for _, site := range failFor {
		fail[site] = true
	}
	return &fakeTimeLogger{pushes: make(map[string]int64), failFor: fail}
}

func (f *fakeTimeLogger) LogTime(_ context.Context, _, siteURL string, seconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[siteURL] {
		return errors.New("backend rejected report")
	}
	f.pushes[siteURL] = seconds
	return nil
}

func newEngineFixture(t *testing.T, client TimeLogger) (*Engine, *usage.Store, *blocklist.Cache) {
	t.Helper()

	clock := &usage.TestClock{CurrentTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := usage.NewStore(&memSiteData{}, 0, clock, zerolog.Nop())
	cache := blocklist.New(nil, nil, []string{"facebook.com"}, zerolog.Nop())

	return NewEngine(store, cache, client, zerolog.Nop()), store, cache
}

func TestOnLoginPushesAndClears(t *testing.T) {
	client := newFakeTimeLogger()
	engine, store, _ := newEngineFixture(t, client)

	store.RecordTime("github", "github.com", 120)
	store.RecordTime("example", "example.com", 45)

	result := engine.OnLogin(context.Background())

	if result.Pushed != 2 {
		t.Errorf("expected 2 pushed, got %d", result.Pushed)
	}
	if result.Failed != 0 {
		t.Errorf("expected 0 failed, got %d", result.Failed)
	}
	if result.Cleared != 2 {
		t.Errorf("expected 2 cleared, got %d", result.Cleared)
	}

	if client.pushes["github.com"] != 120 {
		t.Errorf("expected 120 seconds pushed for github.com, got %d", client.pushes["github.com"])
	}
	if client.pushes["example.com"] != 45 {
		t.Errorf("expected 45 seconds pushed for example.com, got %d", client.pushes["example.com"])
	}

	if records := store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected buffer cleared after sync, got %d records", len(records))
	}
}

func TestOnLoginClearsDespitePartialFailure(t *testing.T) {
	client := newFakeTimeLogger("example.com")
	engine, store, _ := newEngineFixture(t, client)

	store.RecordTime("github", "github.com", 120)
	store.RecordTime("example", "example.com", 45)

	result := engine.OnLogin(context.Background())

	if result.Pushed != 1 {
		t.Errorf("expected 1 pushed, got %d", result.Pushed)
	}
	if result.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", result.Failed)
	}

	// No retry queue: the failed entry's time is lost with the rest.
	if records := store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected buffer cleared despite failure, got %d records", len(records))
	}
}

func TestOnLoginEmptyBuffer(t *testing.T) {
	client := newFakeTimeLogger()
	engine, _, _ := newEngineFixture(t, client)

	result := engine.OnLogin(context.Background())

	if result.Pushed != 0 || result.Failed != 0 || result.Cleared != 0 {
		t.Fatalf("expected zero result for empty buffer, got %+v", result)
	}
}

func TestOnLogoutKeepsBufferAndResetsBlocklist(t *testing.T) {
	client := newFakeTimeLogger()
	engine, store, cache := newEngineFixture(t, client)

	store.RecordTime("github", "github.com", 120)

	engine.OnLogout(context.Background())

	// Tracked-but-unsynced time survives logout.
	if records := store.Snapshot(); len(records) != 1 {
		t.Fatalf("expected buffer untouched after logout, got %d records", len(records))
	}
	if !cache.IsBlocked("https://facebook.com/") {
		t.Error("expected default blocklist after logout")
	}
}
