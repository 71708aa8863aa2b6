package event

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakePayload struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// TestDedupKeyTracksPayloadState verifies the key changes when the entity
// state changes: two successive updates to the same entity must never share a
// key, while an identical retry must.
func TestDedupKeyTracksPayloadState(t *testing.T) {
	id := uuid.New()
	subject := "vam.videosequences.updated"

	first, err := dedupKey(subject, id, &fakePayload{Name: "dive-042", Version: 1})
	if err != nil {
		t.Fatalf("dedupKey: %v", err)
	}
	retry, err := dedupKey(subject, id, &fakePayload{Name: "dive-042", Version: 1})
	if err != nil {
		t.Fatalf("dedupKey retry: %v", err)
	}
	if first != retry {
		t.Errorf("identical state gave different keys: %q vs %q", first, retry)
	}

	second, err := dedupKey(subject, id, &fakePayload{Name: "dive-042", Version: 2})
	if err != nil {
		t.Fatalf("dedupKey second edit: %v", err)
	}
	if second == first {
		t.Error("a later edit shares the retry key and would be dropped")
	}

	if !strings.HasPrefix(first, subject+"/"+id.String()+"/") {
		t.Errorf("key %q does not carry subject and entity id", first)
	}
}

// TestDedupWindow verifies the suppression window: a key is deduplicated
// right after publishing and released once it ages out.
func TestDedupWindow(t *testing.T) {
	p := &natsPub{dedup: make(map[string]time.Time)}
	const key = "vam.videos.created/abc/0011223344556677"

	if p.shouldDedup(key) {
		t.Error("unseen key reported as duplicate")
	}
	p.updateDedup(key)
	if !p.shouldDedup(key) {
		t.Error("fresh key not deduplicated")
	}

	// Age the entry past the window.
	p.dedup[key] = time.Now().Add(-3 * time.Minute)
	if p.shouldDedup(key) {
		t.Error("aged-out key still deduplicated")
	}

	// The cleanup pass drops entries older than its cutoff.
	p.dedup["stale"] = time.Now().Add(-10 * time.Minute)
	p.updateDedup(key)
	if _, ok := p.dedup["stale"]; ok {
		t.Error("stale entry survived cleanup")
	}
}
