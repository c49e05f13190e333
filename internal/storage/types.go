package storage

import (
	"time"
)

// MaxAccumulatedSeconds is the sanity ceiling for per-site accumulated time
// (one year). Any value above it is treated as corruption.
const MaxAccumulatedSeconds = 365 * 24 * 60 * 60

// SiteUsageRecord is the accumulated usage for one site, keyed by SiteURL
// (the canonical site identity).
type SiteUsageRecord struct {
	SiteName    string    `json:"site_name"`
	SiteURL     string    `json:"site_url"`
	TimeSpent   int64     `json:"time_spent_seconds"`
	LastVisited time.Time `json:"last_visited"`
	VisitCount  int64     `json:"visit_count"`
}

// Valid reports whether a loaded record has the shape we expect. Records
// failing this check are dropped at load time, not repaired.
func (r SiteUsageRecord) Valid() bool {
	if r.SiteName == "" || r.SiteURL == "" {
		return false
	}
	if r.TimeSpent < 0 || r.TimeSpent > MaxAccumulatedSeconds {
		return false
	}
	return r.VisitCount >= 0
}

// SiteDataSnapshot is the wholesale durable representation of the local
// usage buffer.
type SiteDataSnapshot struct {
	Records     []SiteUsageRecord `json:"records"`
	LastUpdated time.Time         `json:"last_updated"`
}
