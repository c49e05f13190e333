package events

import (
	"fmt"
	"sync"
)

// TabRegistry remembers the last URL seen for each browser tab, fed by the
// extension's tab lifecycle events. It is the tracker's TabResolver: a tab
// that was closed or never reported cannot be resolved, and its interval is
// silently lost.
type TabRegistry struct {
	mu   sync.RWMutex
	urls map[int]string
}

// NewTabRegistry creates an empty registry.
func NewTabRegistry() *TabRegistry {
	return &TabRegistry{urls: make(map[int]string)}
}

// Update records the current URL of a tab.
func (r *TabRegistry) Update(tabID int, url string) {
	if tabID == 0 || url == "" {
		return
	}
	r.mu.Lock()
	r.urls[tabID] = url
	r.mu.Unlock()
}

// Remove forgets a closed tab.
func (r *TabRegistry) Remove(tabID int) {
	r.mu.Lock()
	delete(r.urls, tabID)
	r.mu.Unlock()
}

// TabURL resolves a tab ID to its last known URL.
func (r *TabRegistry) TabURL(tabID int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.urls[tabID]
	if !ok {
		return "", fmt.Errorf("tab %d not found", tabID)
	}
	return url, nil
}
