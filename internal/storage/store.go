package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	SiteData() SiteDataStore
}

// SiteDataStore persists the buffered site-usage collection. The collection
// is written and read wholesale: one durable snapshot holding every record
// plus a last-updated timestamp.
type SiteDataStore interface {
	Save(ctx context.Context, snapshot SiteDataSnapshot) error
	Load(ctx context.Context) (*SiteDataSnapshot, error)
}
