// Package conformance runs end-to-end catalog scenarios through the HTTP API.
package conformance

import (
	"net/http"
	"testing"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/model"
)

// TestHealthEndpoints verifies the liveness and readiness endpoints.
func TestHealthEndpoints(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// TestDiveCatalogingWalk registers a survey dive the way a camera platform
// does after a mission: one sequence, its recordings, and the locations of
// each encoding, then resolves everything back out through the query surface.
func TestDiveCatalogingWalk(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-042", "ROV-Doc-Ricketts")
	if seq.Version != 0 {
		t.Errorf("new sequence version = %d, want 0", seq.Version)
	}

	// Second segment recorded first so ordering by start is actually tested.
	late := h.createVideo(t, "dive-042-segment-02", "2024-03-15T11:00:00Z", 3_600_000, seq.UUID)
	early := h.createVideo(t, "dive-042-segment-01", "2024-03-15T10:00:00Z", 3_600_000, seq.UUID)

	h.createReference(t, "s3://survey-archive/dive-042/segment-01-master.mov", early.UUID, map[string]any{
		"container":  "mov",
		"videoCodec": "prores",
		"width":      3840,
		"height":     2160,
		"sha512":     "deadbeef",
	})
	h.createReference(t, "http://media.example.org/dive-042/segment-01.mp4", early.UUID, map[string]any{
		"container":  "mp4",
		"videoCodec": "h264",
	})
	h.createReference(t, "s3://survey-archive/dive-042/segment-02-master.mov", late.UUID, nil)

	// The assembled sequence carries its videos ordered by start ascending.
	var got model.VideoSequence
	if status := h.get(t, sequencePath(seq.UUID), &got); status != http.StatusOK {
		t.Fatalf("fetch sequence: status %d", status)
	}
	if len(got.Videos) != 2 {
		t.Fatalf("sequence has %d videos, want 2", len(got.Videos))
	}
	if got.Videos[0].Name != "dive-042-segment-01" || got.Videos[1].Name != "dive-042-segment-02" {
		t.Errorf("videos out of start order: %s, %s", got.Videos[0].Name, got.Videos[1].Name)
	}
	if len(got.Videos[0].References) != 2 {
		t.Errorf("segment-01 has %d references, want 2", len(got.Videos[0].References))
	}

	// Camera lookup resolves the dive.
	var byCamera []*model.VideoSequence
	if status := h.get(t, "/v1/videosequences?cameraId=ROV-Doc-Ricketts", &byCamera); status != http.StatusOK {
		t.Fatalf("camera lookup: status %d", status)
	}
	if len(byCamera) != 1 || byCamera[0].Name != "dive-042" {
		t.Errorf("camera lookup returned %d sequences", len(byCamera))
	}

	// A time range overlapping only the first segment still resolves the dive.
	var ranged []*model.VideoSequence
	status := h.get(t, "/v1/videosequences?from=2024-03-15T09:30:00Z&to=2024-03-15T10:30:00Z", &ranged)
	if status != http.StatusOK || len(ranged) != 1 {
		t.Errorf("time range lookup: status %d, %d sequences", status, len(ranged))
	}

	// The flattened media projection carries one row per reference, ordered
	// by video start.
	var rows []model.Media
	if status := h.post(t, "/v1/media", map[string]any{"names": []string{"dive-042"}}, &rows); status != http.StatusOK {
		t.Fatalf("media projection: status %d", status)
	}
	if len(rows) != 3 {
		t.Fatalf("media projection returned %d rows, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].StartTimestamp.Before(rows[i-1].StartTimestamp) {
			t.Errorf("media rows out of start order at %d", i)
		}
	}
	if rows[0].CameraID != "ROV-Doc-Ricketts" || rows[0].VideoSequenceName != "dive-042" {
		t.Errorf("media row missing sequence context: %+v", rows[0])
	}

	// Streaming name listings include the dive.
	var names []string
	if status := h.get(t, "/v1/videosequences/names", &names); status != http.StatusOK {
		t.Fatalf("names listing: status %d", status)
	}
	if len(names) != 1 || names[0] != "dive-042" {
		t.Errorf("names listing = %v", names)
	}
}

// TestDuplicateSequenceNameRejected verifies the global name uniqueness rule.
func TestDuplicateSequenceNameRejected(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	original := h.createSequence(t, "dive-100", "camera-a")

	status := h.post(t, "/v1/videosequences", map[string]any{
		"name":     "dive-100",
		"cameraId": "camera-b",
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("duplicate name: status %d, want 409", status)
	}

	// The original registration is untouched.
	var got model.VideoSequence
	h.get(t, sequencePath(original.UUID), &got)
	if got.CameraID != "camera-a" || got.Version != 0 {
		t.Errorf("original sequence changed after rejected duplicate: %+v", got)
	}
}

// TestDuplicateURIRejected verifies that a location can only be registered
// once, even under a different video.
func TestDuplicateURIRejected(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-101", "camera-a")
	v1 := h.createVideo(t, "dive-101-a", "2024-01-01T00:00:00Z", 1000, seq.UUID)
	v2 := h.createVideo(t, "dive-101-b", "2024-01-01T01:00:00Z", 1000, seq.UUID)

	h.createReference(t, "s3://archive/dive-101/a.mov", v1.UUID, nil)

	status := h.post(t, "/v1/videoreferences", map[string]any{
		"uri":       "s3://archive/dive-101/a.mov",
		"videoUuid": v2.UUID,
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("duplicate uri: status %d, want 409", status)
	}

	// Nothing was attached to the second video.
	var refs []*model.VideoReference
	h.get(t, "/v1/videoreferences?videoUuid="+v2.UUID.String(), &refs)
	if len(refs) != 0 {
		t.Errorf("second video gained %d references from a rejected create", len(refs))
	}
}

// TestDuplicateChecksumAccepted verifies that the same content registered at
// two locations is legitimate and both rows come back from a checksum lookup.
func TestDuplicateChecksumAccepted(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-102", "camera-a")
	v := h.createVideo(t, "dive-102-a", "2024-01-01T00:00:00Z", 1000, seq.UUID)

	digest := "cafef00dcafef00d"
	h.createReference(t, "s3://archive/dive-102/a.mov", v.UUID, map[string]any{"sha512": digest})
	h.createReference(t, "http://mirror.example.org/dive-102/a.mov", v.UUID, map[string]any{"sha512": digest})

	var refs []*model.VideoReference
	if status := h.get(t, "/v1/videoreferences?sha512="+digest, &refs); status != http.StatusOK {
		t.Fatalf("checksum lookup: status %d", status)
	}
	if len(refs) != 2 {
		t.Errorf("checksum lookup returned %d references, want 2", len(refs))
	}
}

// TestCascadeDelete verifies that removing a sequence removes its videos and
// references in the same transaction.
func TestCascadeDelete(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-103", "camera-a")
	v := h.createVideo(t, "dive-103-a", "2024-01-01T00:00:00Z", 1000, seq.UUID)
	ref := h.createReference(t, "s3://archive/dive-103/a.mov", v.UUID, nil)

	if status := h.del(t, sequencePath(seq.UUID)); status != http.StatusNoContent {
		t.Fatalf("delete sequence: status %d", status)
	}

	if status := h.get(t, sequencePath(seq.UUID), nil); status != http.StatusNotFound {
		t.Errorf("sequence still resolvable after delete: status %d", status)
	}
	if status := h.get(t, "/v1/videos/"+v.UUID.String(), nil); status != http.StatusNotFound {
		t.Errorf("video survived cascade: status %d", status)
	}
	if status := h.get(t, "/v1/videoreferences/"+ref.UUID.String(), nil); status != http.StatusNotFound {
		t.Errorf("reference survived cascade: status %d", status)
	}
}

// TestStaleWriteConflict verifies the optimistic concurrency loop: the loser
// of a race gets a conflict, re-reads, and succeeds on retry.
func TestStaleWriteConflict(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-104", "camera-a")

	// First writer wins; the counter advances.
	var updated model.VideoSequence
	status := h.put(t, sequencePath(seq.UUID), map[string]any{
		"name":     "dive-104",
		"cameraId": "camera-b",
		"version":  seq.Version,
	}, &updated)
	if status != http.StatusOK || updated.Version != seq.Version+1 {
		t.Fatalf("first update: status %d, version %d", status, updated.Version)
	}

	// Second writer still holds the old version and must lose.
	status = h.put(t, sequencePath(seq.UUID), map[string]any{
		"name":     "dive-104",
		"cameraId": "camera-c",
		"version":  seq.Version,
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("stale update: status %d, want 409", status)
	}

	// After a fresh read the retry goes through.
	var fresh model.VideoSequence
	h.get(t, sequencePath(seq.UUID), &fresh)
	status = h.put(t, sequencePath(seq.UUID), map[string]any{
		"name":     "dive-104",
		"cameraId": "camera-c",
		"version":  fresh.Version,
	}, &updated)
	if status != http.StatusOK {
		t.Fatalf("retry after re-read: status %d", status)
	}
	if updated.CameraID != "camera-c" {
		t.Errorf("retry did not apply: cameraId = %s", updated.CameraID)
	}
}

// TestDownloadWithoutObjectStorage verifies the download endpoint degrades
// cleanly when no S3 presigner is configured.
func TestDownloadWithoutObjectStorage(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-105", "camera-a")
	v := h.createVideo(t, "dive-105-a", "2024-01-01T00:00:00Z", 1000, seq.UUID)
	ref := h.createReference(t, "s3://archive/dive-105/a.mov", v.UUID, nil)

	status := h.get(t, "/v1/videoreferences/"+ref.UUID.String()+"/download", nil)
	if status != http.StatusServiceUnavailable {
		t.Errorf("download without S3: status %d, want 503", status)
	}
}

// TestMillisecondFloor verifies that sub-millisecond precision supplied by a
// client is dropped at registration.
func TestMillisecondFloor(t *testing.T) {
	h := NewHarness()
	defer h.Close()

	seq := h.createSequence(t, "dive-106", "camera-a")
	v := h.createVideo(t, "dive-106-a", "2024-01-01T00:00:00.1234567Z", 1000, seq.UUID)

	want := time.Date(2024, 1, 1, 0, 0, 0, 123_000_000, time.UTC)
	if !v.Start.Equal(want) {
		t.Errorf("start = %v, want millisecond floor %v", v.Start, want)
	}
}
