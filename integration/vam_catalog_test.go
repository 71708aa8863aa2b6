// integration/vam_catalog_test.go
// Package integration provides integration tests for the catalog HTTP surface
// and event publication working together over one store.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seaview-org/seaview-vam-go/internal/event"
	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/seaview-org/seaview-vam-go/internal/server"
	"github.com/seaview-org/seaview-vam-go/internal/storage"
	"github.com/google/uuid"
)

// recordedEvent captures one publisher call for later assertions.
type recordedEvent struct {
	action string
	entity string
	id     uuid.UUID
}

// recordingPublisher implements event.Publisher for integration testing.
type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) PublishCreated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	p.events = append(p.events, recordedEvent{action: "created", entity: entity, id: id})
	return nil
}

func (p *recordingPublisher) PublishUpdated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	p.events = append(p.events, recordedEvent{action: "updated", entity: entity, id: id})
	return nil
}

func (p *recordingPublisher) PublishDeleted(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	p.events = append(p.events, recordedEvent{action: "deleted", entity: entity, id: id})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// do serves one request against the mux and decodes the data envelope into out
// when out is non-nil.
func do(t *testing.T, mux *http.ServeMux, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode envelope: %v (body %s)", err, rr.Body.String())
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return rr
}

// TestLifecycleEventsPublished walks an entity through create, update, and
// delete over HTTP and verifies each mutation produced exactly one event with
// the right entity label.
func TestLifecycleEventsPublished(t *testing.T) {
	store := storage.NewMemory()
	pub := &recordingPublisher{}
	mux := server.NewMux(store, pub, nil)

	var seq model.VideoSequence
	rr := do(t, mux, http.MethodPost, "/v1/videosequences",
		map[string]any{"name": "dive-100", "cameraId": "cam-a"}, &seq)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-Id") == "" {
		t.Error("response missing correlation header")
	}

	seq.Description = "transect along the canyon wall"
	var updated model.VideoSequence
	rr = do(t, mux, http.MethodPut, "/v1/videosequences/"+seq.UUID.String(), &seq, &updated)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rr.Code, rr.Body.String())
	}
	if updated.Version != seq.Version+1 {
		t.Errorf("update version = %d, want %d", updated.Version, seq.Version+1)
	}

	rr = do(t, mux, http.MethodDelete, "/v1/videosequences/"+seq.UUID.String(), nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", rr.Code, rr.Body.String())
	}

	want := []recordedEvent{
		{action: "created", entity: event.EntityVideoSequence, id: seq.UUID},
		{action: "updated", entity: event.EntityVideoSequence, id: seq.UUID},
		{action: "deleted", entity: event.EntityVideoSequence, id: seq.UUID},
	}
	if len(pub.events) != len(want) {
		t.Fatalf("published %d events, want %d: %+v", len(pub.events), len(want), pub.events)
	}
	for i, w := range want {
		if pub.events[i] != w {
			t.Errorf("event %d = %+v, want %+v", i, pub.events[i], w)
		}
	}
}

// TestFullTreeOverHTTP builds a sequence with a video and a reference entirely
// through the API, then reads the assembled tree back and checks event counts
// per entity type.
func TestFullTreeOverHTTP(t *testing.T) {
	store := storage.NewMemory()
	pub := &recordingPublisher{}
	mux := server.NewMux(store, pub, nil)

	var seq model.VideoSequence
	if rr := do(t, mux, http.MethodPost, "/v1/videosequences",
		map[string]any{"name": "dive-101", "cameraId": "cam-b"}, &seq); rr.Code != http.StatusCreated {
		t.Fatalf("create sequence: %d %s", rr.Code, rr.Body.String())
	}

	var video model.Video
	if rr := do(t, mux, http.MethodPost, "/v1/videos", map[string]any{
		"name":              "dive-101-01",
		"start":             "2024-06-01T08:00:00Z",
		"durationMillis":    1_800_000,
		"videoSequenceUuid": seq.UUID.String(),
	}, &video); rr.Code != http.StatusCreated {
		t.Fatalf("create video: %d %s", rr.Code, rr.Body.String())
	}

	var ref model.VideoReference
	if rr := do(t, mux, http.MethodPost, "/v1/videoreferences", map[string]any{
		"uri":       "s3://survey-archive/dive-101/01-master.mov",
		"videoUuid": video.UUID.String(),
		"sha512":    "deadbeef",
	}, &ref); rr.Code != http.StatusCreated {
		t.Fatalf("create reference: %d %s", rr.Code, rr.Body.String())
	}

	var tree model.VideoSequence
	if rr := do(t, mux, http.MethodGet, "/v1/videosequences/"+seq.UUID.String(), nil, &tree); rr.Code != http.StatusOK {
		t.Fatalf("read tree: %d %s", rr.Code, rr.Body.String())
	}
	if len(tree.Videos) != 1 || len(tree.Videos[0].References) != 1 {
		t.Fatalf("assembled tree has %d videos", len(tree.Videos))
	}
	if tree.Videos[0].References[0].URI != ref.URI {
		t.Errorf("reference uri = %s", tree.Videos[0].References[0].URI)
	}

	counts := make(map[string]int)
	for _, e := range pub.events {
		counts[fmt.Sprintf("%s/%s", e.entity, e.action)]++
	}
	for _, key := range []string{
		event.EntityVideoSequence + "/created",
		event.EntityVideo + "/created",
		event.EntityVideoReference + "/created",
	} {
		if counts[key] != 1 {
			t.Errorf("event count %s = %d, want 1", key, counts[key])
		}
	}
}

// TestConflictSuppressesEvents verifies rejected writes publish nothing.
func TestConflictSuppressesEvents(t *testing.T) {
	store := storage.NewMemory()
	pub := &recordingPublisher{}
	mux := server.NewMux(store, pub, nil)

	if rr := do(t, mux, http.MethodPost, "/v1/videosequences",
		map[string]any{"name": "dive-102", "cameraId": "cam-a"}, nil); rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/v1/videosequences",
		map[string]any{"name": "dive-102", "cameraId": "cam-b"}, nil); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rr.Code)
	}

	if len(pub.events) != 1 {
		t.Errorf("published %d events after one success and one conflict, want 1", len(pub.events))
	}
}
