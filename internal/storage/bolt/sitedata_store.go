package bolt

import (
	"context"

	"github.com/goodtune/tabtime/internal/storage"
	"go.etcd.io/bbolt"
)

type siteDataStore struct {
	db *bbolt.DB
}

func (s *siteDataStore) Save(ctx context.Context, snapshot storage.SiteDataSnapshot) error {
	data, err := marshal(snapshot)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSiteData))
		if b == nil {
			return storage.ErrNotFound
		}
		return b.Put([]byte(keySnapshot), data)
	})
}

func (s *siteDataStore) Load(ctx context.Context) (*storage.SiteDataSnapshot, error) {
	var snapshot *storage.SiteDataSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSiteData))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(keySnapshot))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.SiteDataSnapshot
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		snapshot = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
