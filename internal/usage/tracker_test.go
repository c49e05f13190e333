package usage

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTabs struct {
	urls map[int]string
}

func (f *fakeTabs) TabURL(tabID int) (string, error) {
	url, ok := f.urls[tabID]
	if !ok {
		return "", fmt.Errorf("tab %d not found", tabID)
	}
	return url, nil
}

type fakeBlocklist struct {
	blocked map[string]bool
}

func (f *fakeBlocklist) IsBlocked(rawURL string) bool {
	return f.blocked[rawURL]
}

type trackerFixture struct {
	tracker   *Tracker
	store     *Store
	tabs      *fakeTabs
	blocklist *fakeBlocklist
	clock     *TestClock
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	clock := &TestClock{CurrentTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(&memSiteData{}, 0, clock, zerolog.Nop())
	tabs := &fakeTabs{urls: make(map[int]string)}
	blocklist := &fakeBlocklist{blocked: make(map[string]bool)}

	tracker := NewTracker(store, blocklist, tabs, Config{}, clock, zerolog.Nop())

	return &trackerFixture{
		tracker:   tracker,
		store:     store,
		tabs:      tabs,
		blocklist: blocklist,
		clock:     clock,
	}
}

func TestTrackerAttributesActiveTime(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://www.github.com/explore"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(65 * time.Second)
	f.tracker.OnWindowFocusLost()

	records := f.store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].SiteURL != "github.com" {
		t.Errorf("expected identity github.com, got %s", records[0].SiteURL)
	}
	if records[0].SiteName != "github" {
		t.Errorf("expected site name github, got %s", records[0].SiteName)
	}
	if records[0].TimeSpent != 65 {
		t.Errorf("expected 65 seconds, got %d", records[0].TimeSpent)
	}
	if records[0].VisitCount != 1 {
		t.Errorf("expected visit count 1, got %d", records[0].VisitCount)
	}
}

func TestTrackerFlushesBeforeTransition(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/explore"
	f.tabs.urls[2] = "https://news.ycombinator.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(30 * time.Second)

	// Switching tabs attributes the elapsed time to the previous tab.
	f.tracker.OnTabActivated(2)
	f.clock.Advance(10 * time.Second)
	f.tracker.OnSuspend()

	records := f.store.Snapshot()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byURL := make(map[string]int64, len(records))
	for _, record := range records {
		byURL[record.SiteURL] = record.TimeSpent
	}
	if byURL["github.com"] != 30 {
		t.Errorf("expected 30 seconds for github.com, got %d", byURL["github.com"])
	}
	if byURL["news.ycombinator.com"] != 10 {
		t.Errorf("expected 10 seconds for news.ycombinator.com, got %d", byURL["news.ycombinator.com"])
	}
}

func TestTrackerNavigationRestartsSession(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/explore"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(20 * time.Second)

	// The tracker flushes against the URL the time was spent on; the
	// registry update to the new URL happens after.
	f.tracker.OnActiveTabUpdated(1, "https://reddit.com/r/golang")
	f.tabs.urls[1] = "https://reddit.com/r/golang"

	f.clock.Advance(15 * time.Second)
	f.tracker.OnSuspend()

	byURL := make(map[string]int64)
	for _, record := range f.store.Snapshot() {
		byURL[record.SiteURL] = record.TimeSpent
	}
	if byURL["github.com"] != 20 {
		t.Errorf("expected 20 seconds for github.com, got %d", byURL["github.com"])
	}
	if byURL["reddit.com"] != 15 {
		t.Errorf("expected 15 seconds for reddit.com, got %d", byURL["reddit.com"])
	}
}

func TestTrackerIgnoresNonWebNavigation(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/explore"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(10 * time.Second)

	// Navigating to an internal page does not restart the session.
	f.tracker.OnActiveTabUpdated(1, "chrome://settings")

	f.clock.Advance(10 * time.Second)
	f.tracker.OnSuspend()

	records := f.store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].TimeSpent != 20 {
		t.Errorf("expected full 20 seconds attributed, got %d", records[0].TimeSpent)
	}
}

func TestTrackerDiscardsBlockedSite(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://facebook.com/feed"
	f.blocklist.blocked["https://facebook.com/feed"] = true

	f.tracker.OnTabActivated(1)
	f.clock.Advance(time.Minute)
	f.tracker.OnWindowFocusLost()

	if records := f.store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected no records for blocked site, got %d", len(records))
	}
}

func TestTrackerDiscardsShortInterval(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(500 * time.Millisecond)
	f.tracker.OnWindowFocusLost()

	if records := f.store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected no records for sub-second interval, got %d", len(records))
	}
}

func TestTrackerDiscardsStaleSession(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(25 * time.Hour)
	f.tracker.OnWindowFocusLost()

	if records := f.store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected stale session to be discarded, got %d records", len(records))
	}
}

func TestTrackerDiscardsClockSkew(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(-time.Minute)
	f.tracker.OnWindowFocusLost()

	if records := f.store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected skewed session to be discarded, got %d records", len(records))
	}
}

func TestTrackerDiscardsClosedTab(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(time.Minute)
	delete(f.tabs.urls, 1)
	f.tracker.OnSuspend()

	if records := f.store.Snapshot(); len(records) != 0 {
		t.Fatalf("expected closed tab interval to be lost, got %d records", len(records))
	}
}

func TestTrackerIdleAfterFocusLost(t *testing.T) {
	f := newTrackerFixture(t)
	f.tabs.urls[1] = "https://github.com/"

	f.tracker.OnTabActivated(1)
	f.clock.Advance(10 * time.Second)
	f.tracker.OnWindowFocusLost()

	// Idle time between focus loss and regain is never attributed.
	f.clock.Advance(time.Hour)
	f.tracker.OnWindowFocusGained(1)
	f.clock.Advance(5 * time.Second)
	f.tracker.OnSuspend()

	records := f.store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].TimeSpent != 15 {
		t.Errorf("expected 15 seconds (10 + 5), got %d", records[0].TimeSpent)
	}
	if records[0].VisitCount != 2 {
		t.Errorf("expected 2 visits, got %d", records[0].VisitCount)
	}
}
