package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keySiteData = "tabtime:site_data"

type siteDataStore struct {
	client *redis.Client
}

func (s *siteDataStore) Save(ctx context.Context, snapshot storage.SiteDataSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, keySiteData, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *siteDataStore) Load(ctx context.Context) (*storage.SiteDataSnapshot, error) {
	data, err := s.client.Get(ctx, keySiteData).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snapshot storage.SiteDataSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}
