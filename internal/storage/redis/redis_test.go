package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestSiteDataSaveLoad(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	snapshot := storage.SiteDataSnapshot{
		Records: []storage.SiteUsageRecord{
			{SiteName: "github", SiteURL: "github.com", TimeSpent: 300, LastVisited: now, VisitCount: 5},
		},
		LastUpdated: now,
	}

	if err := store.SiteData().Save(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.SiteData().Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(loaded.Records))
	}
	if loaded.Records[0].SiteName != "github" {
		t.Errorf("expected site name github, got %s", loaded.Records[0].SiteName)
	}
	if loaded.Records[0].TimeSpent != 300 {
		t.Errorf("expected time spent 300, got %d", loaded.Records[0].TimeSpent)
	}
	if !loaded.LastUpdated.Equal(now) {
		t.Errorf("expected last updated %v, got %v", now, loaded.LastUpdated)
	}
}

func TestSiteDataLoadMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.SiteData().Load(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSiteDataSurvivesReopen(t *testing.T) {
	store, mr := setupTestStore(t)

	ctx := context.Background()
	snapshot := storage.SiteDataSnapshot{
		Records: []storage.SiteUsageRecord{
			{SiteName: "example", SiteURL: "example.com", TimeSpent: 30, LastVisited: time.Now(), VisitCount: 1},
		},
		LastUpdated: time.Now(),
	}
	if err := store.SiteData().Save(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(config.RedisConfig{
		Host:        mr.Addr(),
		DialTimeout: "5s", ReadTimeout: "3s", WriteTimeout: "3s",
	})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.SiteData().Load(ctx)
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if len(loaded.Records) != 1 || loaded.Records[0].SiteURL != "example.com" {
		t.Fatalf("unexpected records after reopen: %+v", loaded.Records)
	}
}
