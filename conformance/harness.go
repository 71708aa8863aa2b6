// Package conformance provides a test harness for verifying catalog behavior
// through the full HTTP surface: it boots the service on an httptest server
// backed by the in-memory store and walks the cataloging scenarios a survey
// platform exercises in production.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seaview-org/seaview-vam-go/internal/event"
	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/seaview-org/seaview-vam-go/internal/server"
	"github.com/seaview-org/seaview-vam-go/internal/storage"
	"github.com/google/uuid"
)

// Harness boots the full service for conformance testing.
type Harness struct {
	server *httptest.Server
	store  storage.Store
	pub    event.Publisher
}

// NewHarness creates a new conformance test harness on the in-memory store.
func NewHarness() *Harness {
	store := storage.NewMemory()
	pub := &noopPublisher{}

	mux := server.NewMux(store, pub, nil)

	return &Harness{
		server: httptest.NewServer(mux),
		store:  store,
		pub:    pub,
	}
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.pub.Close()
	h.store.Close()
}

// noopPublisher is a no-op implementation of event.Publisher for testing.
type noopPublisher struct{}

func (n *noopPublisher) PublishCreated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

func (n *noopPublisher) PublishUpdated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

func (n *noopPublisher) PublishDeleted(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

func (n *noopPublisher) Close() error { return nil }

// post sends a JSON body and decodes the data envelope into out when the
// status matches. The raw status is always returned for error-path checks.
func (h *Harness) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(h.URL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		h.decodeData(t, resp.Body, out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

// get fetches a path and decodes the data envelope into out on success.
func (h *Harness) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(h.URL() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		h.decodeData(t, resp.Body, out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

// put sends a JSON body with PUT and decodes the data envelope on success.
func (h *Harness) put(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, h.URL()+path, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("build PUT %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		h.decodeData(t, resp.Body, out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

// del issues a DELETE and returns the status code.
func (h *Harness) del(t *testing.T, path string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, h.URL()+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (h *Harness) decodeData(t *testing.T, r io.Reader, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

// createSequence registers a sequence and fails the test on any error.
func (h *Harness) createSequence(t *testing.T, name, cameraID string) model.VideoSequence {
	t.Helper()
	var seq model.VideoSequence
	status := h.post(t, "/v1/videosequences", map[string]any{
		"name":     name,
		"cameraId": cameraID,
	}, &seq)
	if status != http.StatusCreated {
		t.Fatalf("create sequence %q: status %d", name, status)
	}
	return seq
}

// createVideo registers a video under a sequence.
func (h *Harness) createVideo(t *testing.T, name, start string, durationMillis int64, sequenceUUID uuid.UUID) model.Video {
	t.Helper()
	var v model.Video
	status := h.post(t, "/v1/videos", map[string]any{
		"name":              name,
		"start":             start,
		"durationMillis":    durationMillis,
		"videoSequenceUuid": sequenceUUID,
	}, &v)
	if status != http.StatusCreated {
		t.Fatalf("create video %q: status %d", name, status)
	}
	return v
}

// createReference registers a reference under a video.
func (h *Harness) createReference(t *testing.T, uri string, videoUUID uuid.UUID, extra map[string]any) model.VideoReference {
	t.Helper()
	body := map[string]any{
		"uri":       uri,
		"videoUuid": videoUUID,
	}
	for k, v := range extra {
		body[k] = v
	}
	var ref model.VideoReference
	status := h.post(t, "/v1/videoreferences", body, &ref)
	if status != http.StatusCreated {
		t.Fatalf("create reference %q: status %d", uri, status)
	}
	return ref
}

// sequencePath builds the item path for a sequence.
func sequencePath(id uuid.UUID) string {
	return fmt.Sprintf("/v1/videosequences/%s", id)
}
