package events

import "testing"

func TestTabRegistry(t *testing.T) {
	registry := NewTabRegistry()

	registry.Update(1, "https://github.com/")
	registry.Update(2, "https://example.com/")

	url, err := registry.TabURL(1)
	if err != nil {
		t.Fatalf("TabURL(1): %v", err)
	}
	if url != "https://github.com/" {
		t.Errorf("expected github URL, got %s", url)
	}

	registry.Update(1, "https://reddit.com/")
	url, err = registry.TabURL(1)
	if err != nil {
		t.Fatalf("TabURL(1) after update: %v", err)
	}
	if url != "https://reddit.com/" {
		t.Errorf("expected updated URL, got %s", url)
	}

	registry.Remove(1)
	if _, err := registry.TabURL(1); err == nil {
		t.Fatal("expected error for removed tab")
	}

	if _, err := registry.TabURL(99); err == nil {
		t.Fatal("expected error for unknown tab")
	}
}

func TestTabRegistryIgnoresEmptyUpdates(t *testing.T) {
	registry := NewTabRegistry()

	registry.Update(0, "https://github.com/")
	registry.Update(1, "")

	if _, err := registry.TabURL(0); err == nil {
		t.Fatal("expected zero tab ID to be ignored")
	}
	if _, err := registry.TabURL(1); err == nil {
		t.Fatal("expected empty URL update to be ignored")
	}
}
