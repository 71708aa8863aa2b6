// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the VAM service.
// It provides RESTful endpoints for video sequence, video, and video reference
// operations with per-request units of work and event publishing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/convert"
	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/seaview-org/seaview-vam-go/internal/event"
	"github.com/seaview-org/seaview-vam-go/internal/media"
	"github.com/seaview-org/seaview-vam-go/internal/metrics"
	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/seaview-org/seaview-vam-go/internal/storage"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// ContextKeyCorrelationID stores the unique ID for request tracking
	ContextKeyCorrelationID ContextKey = "correlationId"
)

// Mux handles HTTP requests for the VAM service.
// It implements all the catalog endpoints and manages dependencies such as
// storage, event publishing, and object-storage presigning.
type Mux struct {
	mux         *http.ServeMux   // HTTP request multiplexer
	s           storage.Store    // Catalog store
	p           event.Publisher  // Event publisher for streaming updates
	mediaClient *media.S3Client  // S3 presigner for download links (may be nil)
	metrics     *metrics.Metrics // Metrics for monitoring
}

// NewMux creates a new HTTP mux with all VAM endpoints.
// Parameters:
//   - s: Catalog store for data persistence
//   - p: Event publisher for streaming updates
//   - mediaClient: S3 presigner for s3:// reference URIs (nil disables downloads)
func NewMux(s storage.Store, p event.Publisher, mediaClient *media.S3Client) *http.ServeMux {
	m := &Mux{
		mux:         http.NewServeMux(),
		s:           s,
		p:           p,
		mediaClient: mediaClient,
		metrics:     metrics.NewMetrics(),
	}

	// Register health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Register catalog endpoints with appropriate middleware. The trailing
	// slash variants cover item, sub-resource, and listing paths.
	m.mux.HandleFunc("/v1/videosequences", m.withMiddleware(m.handleVideoSequences))
	m.mux.HandleFunc("/v1/videosequences/", m.withMiddleware(m.handleVideoSequenceItem))
	m.mux.HandleFunc("/v1/videos", m.withMiddleware(m.handleVideos))
	m.mux.HandleFunc("/v1/videos/", m.withMiddleware(m.handleVideoItem))
	m.mux.HandleFunc("/v1/videoreferences", m.withMiddleware(m.handleVideoReferences))
	m.mux.HandleFunc("/v1/videoreferences/", m.withMiddleware(m.handleVideoReferenceItem))
	m.mux.HandleFunc("/v1/media", m.method("POST", m.withMiddleware(m.handleMedia)))

	return m.mux
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			err := errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", "")
			m.writeErrorDef(w, err)
			return
		}
		h(w, r)
	}
}

// statusRecorder captures the status code written by a handler so the
// middleware can label metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies common middleware to handlers: correlation IDs,
// request logging, and HTTP metrics.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Add correlation ID if not present. ULIDs sort by time, which makes
		// correlating log lines across services easier than random UUIDs.
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		// Call the handler
		h(rec, r)

		duration := time.Since(start)
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration.Seconds())
		m.logRequest(r, rec.status, duration, correlationID)
	}
}

// correlationID extracts the correlation ID stored by the middleware.
func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response following the VAM error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	response := map[string]interface{}{
		"error": err,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError maps any error onto the taxonomy and writes it. Errors that are
// already coded pass through unchanged.
func (m *Mux) writeError(w http.ResponseWriter, ctx context.Context, err error) {
	var coded *errordefs.Error
	if errors.As(err, &coded) {
		if coded.CorrelationID == "" {
			coded.CorrelationID = correlationID(ctx)
		}
		m.writeErrorDef(w, coded)
		return
	}
	m.writeErrorDef(w, errordefs.FromError(err, correlationID(ctx)))
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	if status >= http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// observeStorage records storage operation metrics.
func (m *Mux) observeStorage(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		switch {
		case errors.Is(err, errordefs.ErrStaleWrite):
			m.metrics.CommitConflictTotal.WithLabelValues("stale_write").Inc()
		case errors.Is(err, errordefs.ErrConstraintViolation):
			m.metrics.CommitConflictTotal.WithLabelValues("constraint").Inc()
		}
	}
	m.metrics.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.metrics.StorageOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// publish emits a catalog lifecycle event, logging instead of failing the
// request when the stream is unavailable.
func (m *Mux) publish(ctx context.Context, fn func() error) {
	if err := fn(); err != nil {
		slog.Warn("failed to publish catalog event", "error", err)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.s.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// parseTimeRange extracts the from/to query parameters. Both must be RFC 3339
// instants; presence of one without the other is an error.
func parseTimeRange(r *http.Request) (from, to time.Time, ok bool, err error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" && toStr == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, false, fmt.Errorf("from and to must be supplied together")
	}
	from, err = time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid from timestamp %q", fromStr)
	}
	to, err = time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid to timestamp %q", toStr)
	}
	return from, to, true, nil
}

// streamStrings writes a lazily-produced string sequence as a JSON array
// without buffering it, so listing every name in a large catalog stays flat
// in memory.
func (m *Mux) streamStrings(w http.ResponseWriter, ctx context.Context, seq iter.Seq2[string, error]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"data":[`))
	first := true
	for s, err := range seq {
		if err != nil {
			// Headers are already out; all we can do is log and truncate.
			slog.Error("stream aborted", "error", err, "correlation_id", correlationID(ctx))
			break
		}
		if !first {
			_, _ = w.Write([]byte(","))
		}
		first = false
		b, _ := json.Marshal(s)
		_, _ = w.Write(b)
	}
	_, _ = w.Write([]byte("]}"))
}

// --- video sequences ---------------------------------------------------------

// handleVideoSequences handles /v1/videosequences (collection).
// GET lists sequences, filtered by name, cameraId, and/or a from/to time
// range over their videos. POST creates a sequence.
func (m *Mux) handleVideoSequences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.handleFindVideoSequences(w, r)
	case http.MethodPost:
		m.handleCreateVideoSequence(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(r.Context())))
	}
}

func (m *Mux) handleFindVideoSequences(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleFindVideoSequences")
	defer span.End()

	name := r.URL.Query().Get("name")
	cameraID := r.URL.Query().Get("cameraId")
	from, to, ranged, err := parseTimeRange(r)
	if err != nil {
		span.SetStatus(codes.Error, "bad time range")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}
	span.SetAttributes(
		attribute.String("name", name),
		attribute.String("camera_id", cameraID),
		attribute.Bool("ranged", ranged),
	)

	var result []*model.VideoSequence
	start := time.Now()
	err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		repo := uow.VideoSequences()
		var err error
		switch {
		case name != "" && ranged:
			result, err = repo.FindByNameBetweenDates(ctx, name, from, to)
		case cameraID != "" && ranged:
			result, err = repo.FindByCameraIDBetweenDates(ctx, cameraID, from, to)
		case ranged:
			result, err = repo.FindBetweenDates(ctx, from, to)
		case name != "":
			var one *model.VideoSequence
			one, err = repo.FindByName(ctx, name)
			if one != nil {
				result = []*model.VideoSequence{one}
			}
		case cameraID != "":
			result, err = repo.FindByCameraID(ctx, cameraID)
		default:
			result, err = repo.FindAll(ctx)
		}
		return err
	})
	m.observeStorage("videosequence.find", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "find failed")
		m.writeError(w, ctx, err)
		return
	}
	if result == nil {
		result = []*model.VideoSequence{}
	}
	m.writeSuccess(w, http.StatusOK, result)
}

func (m *Mux) handleCreateVideoSequence(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleCreateVideoSequence")
	defer span.End()
	defer r.Body.Close()

	var seq model.VideoSequence
	if err := json.NewDecoder(r.Body).Decode(&seq); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID(ctx)))
		return
	}
	span.SetAttributes(attribute.String("name", seq.Name), attribute.String("camera_id", seq.CameraID))

	start := time.Now()
	err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		return uow.VideoSequences().Create(ctx, &seq)
	})
	m.observeStorage("videosequence.create", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "create failed")
		m.writeError(w, ctx, err)
		return
	}

	m.publish(ctx, func() error {
		return m.p.PublishCreated(ctx, event.EntityVideoSequence, seq.UUID, &seq)
	})
	m.writeSuccess(w, http.StatusCreated, &seq)
}

// handleVideoSequenceItem handles /v1/videosequences/{...} sub-paths:
// names, cameras, byvideo/{uuid}, and {uuid} item operations.
func (m *Mux) handleVideoSequenceItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/v1/videosequences/")

	switch {
	case rest == "names" && r.Method == http.MethodGet:
		uow, err := m.s.Begin(ctx)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		defer uow.Rollback(ctx)
		if cameraID := r.URL.Query().Get("cameraId"); cameraID != "" {
			m.streamStrings(w, ctx, uow.VideoSequences().NamesByCameraID(ctx, cameraID))
		} else {
			m.streamStrings(w, ctx, uow.VideoSequences().AllNames(ctx))
		}
		return

	case rest == "cameras" && r.Method == http.MethodGet:
		uow, err := m.s.Begin(ctx)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		defer uow.Rollback(ctx)
		m.streamStrings(w, ctx, uow.VideoSequences().AllCameraIDs(ctx))
		return

	case strings.HasPrefix(rest, "byvideo/") && r.Method == http.MethodGet:
		id, err := convert.CanonicalUUID(strings.TrimPrefix(rest, "byvideo/"))
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
			return
		}
		var seq *model.VideoSequence
		err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			seq, err = uow.VideoSequences().FindByVideoUUID(ctx, id)
			return err
		})
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if seq == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video sequence not found", correlationID(ctx)))
			return
		}
		m.writeSuccess(w, http.StatusOK, seq)
		return
	}

	id, err := convert.CanonicalUUID(rest)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}

	switch r.Method {
	case http.MethodGet:
		var seq *model.VideoSequence
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			seq, err = uow.VideoSequences().FindByUUID(ctx, id)
			return err
		})
		m.observeStorage("videosequence.find", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if seq == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video sequence not found", correlationID(ctx)))
			return
		}
		m.writeSuccess(w, http.StatusOK, seq)

	case http.MethodPut:
		defer r.Body.Close()
		var seq model.VideoSequence
		if err := json.NewDecoder(r.Body).Decode(&seq); err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID(ctx)))
			return
		}
		seq.UUID = id
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			return uow.VideoSequences().Update(ctx, &seq)
		})
		m.observeStorage("videosequence.update", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishUpdated(ctx, event.EntityVideoSequence, seq.UUID, &seq)
		})
		m.writeSuccess(w, http.StatusOK, &seq)

	case http.MethodDelete:
		var seq *model.VideoSequence
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			seq, err = uow.VideoSequences().FindByUUID(ctx, id)
			if err != nil {
				return err
			}
			if seq == nil {
				return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, id)
			}
			return uow.VideoSequences().Delete(ctx, seq)
		})
		m.observeStorage("videosequence.delete", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishDeleted(ctx, event.EntityVideoSequence, id, seq)
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(ctx)))
	}
}

// --- videos ------------------------------------------------------------------

// handleVideos handles /v1/videos (collection).
// GET requires a filter (name, nameLike, or from/to); POST creates a video.
func (m *Mux) handleVideos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.handleFindVideos(w, r)
	case http.MethodPost:
		m.handleCreateVideo(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(r.Context())))
	}
}

func (m *Mux) handleFindVideos(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleFindVideos")
	defer span.End()

	name := r.URL.Query().Get("name")
	nameLike := r.URL.Query().Get("nameLike")
	from, to, ranged, err := parseTimeRange(r)
	if err != nil {
		span.SetStatus(codes.Error, "bad time range")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}
	if name == "" && nameLike == "" && !ranged {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST,
			"a name, nameLike, or from/to filter is required", correlationID(ctx)))
		return
	}

	var result []*model.Video
	start := time.Now()
	err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		repo := uow.Videos()
		var err error
		switch {
		case ranged:
			result, err = repo.FindBetweenDates(ctx, from, to)
		case name != "":
			var one *model.Video
			one, err = repo.FindByName(ctx, name)
			if one != nil {
				result = []*model.Video{one}
			}
		default:
			result, err = repo.FindByNameLike(ctx, nameLike)
		}
		return err
	})
	m.observeStorage("video.find", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "find failed")
		m.writeError(w, ctx, err)
		return
	}
	if result == nil {
		result = []*model.Video{}
	}
	m.writeSuccess(w, http.StatusOK, result)
}

func (m *Mux) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleCreateVideo")
	defer span.End()
	defer r.Body.Close()

	var v model.Video
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID(ctx)))
		return
	}
	span.SetAttributes(attribute.String("name", v.Name))

	start := time.Now()
	err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		return uow.Videos().Create(ctx, &v)
	})
	m.observeStorage("video.create", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "create failed")
		m.writeError(w, ctx, err)
		return
	}

	m.publish(ctx, func() error {
		return m.p.PublishCreated(ctx, event.EntityVideo, v.UUID, &v)
	})
	m.writeSuccess(w, http.StatusCreated, &v)
}

// handleVideoItem handles /v1/videos/{...} sub-paths: names, namestarts,
// bysequence/{uuid}, byreference/{uuid}, and {uuid} item operations.
func (m *Mux) handleVideoItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/v1/videos/")

	switch {
	case rest == "names" && r.Method == http.MethodGet:
		uow, err := m.s.Begin(ctx)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		defer uow.Rollback(ctx)
		m.streamStrings(w, ctx, uow.Videos().AllNames(ctx))
		return

	case rest == "namestarts" && r.Method == http.MethodGet:
		uow, err := m.s.Begin(ctx)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		defer uow.Rollback(ctx)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[`))
		first := true
		for row, err := range uow.Videos().AllNamesAndStartDates(ctx) {
			if err != nil {
				slog.Error("stream aborted", "error", err, "correlation_id", correlationID(ctx))
				break
			}
			if !first {
				_, _ = w.Write([]byte(","))
			}
			first = false
			b, _ := json.Marshal(row)
			_, _ = w.Write(b)
		}
		_, _ = w.Write([]byte("]}"))
		return

	case strings.HasPrefix(rest, "bysequence/") && r.Method == http.MethodGet:
		id, err := convert.CanonicalUUID(strings.TrimPrefix(rest, "bysequence/"))
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
			return
		}
		var videos []*model.Video
		err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			videos, err = uow.Videos().FindByVideoSequenceUUID(ctx, id)
			return err
		})
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if videos == nil {
			videos = []*model.Video{}
		}
		m.writeSuccess(w, http.StatusOK, videos)
		return

	case strings.HasPrefix(rest, "byreference/") && r.Method == http.MethodGet:
		id, err := convert.CanonicalUUID(strings.TrimPrefix(rest, "byreference/"))
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
			return
		}
		var v *model.Video
		err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			v, err = uow.Videos().FindByVideoReferenceUUID(ctx, id)
			return err
		})
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if v == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video not found", correlationID(ctx)))
			return
		}
		m.writeSuccess(w, http.StatusOK, v)
		return
	}

	id, err := convert.CanonicalUUID(rest)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}

	switch r.Method {
	case http.MethodGet:
		var v *model.Video
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			v, err = uow.Videos().FindByUUID(ctx, id)
			return err
		})
		m.observeStorage("video.find", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if v == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video not found", correlationID(ctx)))
			return
		}
		m.writeSuccess(w, http.StatusOK, v)

	case http.MethodPut:
		defer r.Body.Close()
		var v model.Video
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID(ctx)))
			return
		}
		v.UUID = id
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			return uow.Videos().Update(ctx, &v)
		})
		m.observeStorage("video.update", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishUpdated(ctx, event.EntityVideo, v.UUID, &v)
		})
		m.writeSuccess(w, http.StatusOK, &v)

	case http.MethodDelete:
		var v *model.Video
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			v, err = uow.Videos().FindByUUID(ctx, id)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, id)
			}
			return uow.Videos().Delete(ctx, v)
		})
		m.observeStorage("video.delete", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishDeleted(ctx, event.EntityVideo, id, v)
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(ctx)))
	}
}

// --- video references --------------------------------------------------------

// handleVideoReferences handles /v1/videoreferences (collection).
// GET requires a filter (uri, sha512, videoUuid, or filename); POST creates.
func (m *Mux) handleVideoReferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.handleFindVideoReferences(w, r)
	case http.MethodPost:
		m.handleCreateVideoReference(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(r.Context())))
	}
}

func (m *Mux) handleFindVideoReferences(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleFindVideoReferences")
	defer span.End()

	uri := r.URL.Query().Get("uri")
	sha := r.URL.Query().Get("sha512")
	videoUUID := r.URL.Query().Get("videoUuid")
	filename := r.URL.Query().Get("filename")

	var result []*model.VideoReference
	start := time.Now()
	err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		repo := uow.VideoReferences()
		var err error
		switch {
		case uri != "":
			var one *model.VideoReference
			one, err = repo.FindByURI(ctx, uri)
			if one != nil {
				result = []*model.VideoReference{one}
			}
		case sha != "":
			var digest []byte
			digest, err = convert.DecodeChecksum(sha)
			if err != nil {
				return err
			}
			result, err = repo.FindByChecksum(ctx, digest)
		case videoUUID != "":
			id, idErr := convert.CanonicalUUID(videoUUID)
			if idErr != nil {
				return fmt.Errorf("%w: %v", errordefs.ErrInvalidEntity, idErr)
			}
			result, err = repo.FindByVideoUUID(ctx, id)
		case filename != "":
			result, err = repo.FindByFilename(ctx, filename)
		default:
			return fmt.Errorf("%w: a uri, sha512, videoUuid, or filename filter is required", errordefs.ErrInvalidEntity)
		}
		return err
	})
	m.observeStorage("videoreference.find", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "find failed")
		m.writeError(w, ctx, err)
		return
	}
	if result == nil {
		result = []*model.VideoReference{}
	}
	m.writeSuccess(w, http.StatusOK, result)
}

func (m *Mux) handleCreateVideoReference(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleCreateVideoReference")
	defer span.End()
	defer r.Body.Close()

	var ref model.VideoReference
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeError(w, ctx, badBody(err, correlationID(ctx)))
		return
	}
	span.SetAttributes(attribute.String("uri", ref.URI))

	start := time.Now()
	err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		return uow.VideoReferences().Create(ctx, &ref)
	})
	m.observeStorage("videoreference.create", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "create failed")
		m.writeError(w, ctx, err)
		return
	}

	m.publish(ctx, func() error {
		return m.p.PublishCreated(ctx, event.EntityVideoReference, ref.UUID, &ref)
	})
	m.writeSuccess(w, http.StatusCreated, &ref)
}

// badBody keeps checksum decode failures distinguishable from plain JSON
// syntax errors when a request body fails to decode.
func badBody(err error, correlationID string) error {
	if errors.Is(err, errordefs.ErrMalformedChecksum) {
		return err
	}
	return errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID)
}

// handleVideoReferenceItem handles /v1/videoreferences/{...} sub-paths:
// uris, {uuid}, and {uuid}/download.
func (m *Mux) handleVideoReferenceItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/v1/videoreferences/")

	if rest == "uris" && r.Method == http.MethodGet {
		uow, err := m.s.Begin(ctx)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		defer uow.Rollback(ctx)
		m.streamStrings(w, ctx, uow.VideoReferences().AllURIs(ctx))
		return
	}

	if tail, ok := strings.CutSuffix(rest, "/download"); ok && r.Method == http.MethodGet {
		m.handleDownload(w, r, tail)
		return
	}

	id, err := convert.CanonicalUUID(rest)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}

	switch r.Method {
	case http.MethodGet:
		var ref *model.VideoReference
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			ref, err = uow.VideoReferences().FindByUUID(ctx, id)
			return err
		})
		m.observeStorage("videoreference.find", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		if ref == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video reference not found", correlationID(ctx)))
			return
		}
		m.writeSuccess(w, http.StatusOK, ref)

	case http.MethodPut:
		defer r.Body.Close()
		var ref model.VideoReference
		if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
			m.writeError(w, ctx, badBody(err, correlationID(ctx)))
			return
		}
		ref.UUID = id
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			return uow.VideoReferences().Update(ctx, &ref)
		})
		m.observeStorage("videoreference.update", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishUpdated(ctx, event.EntityVideoReference, ref.UUID, &ref)
		})
		m.writeSuccess(w, http.StatusOK, &ref)

	case http.MethodDelete:
		var ref *model.VideoReference
		start := time.Now()
		err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
			var err error
			ref, err = uow.VideoReferences().FindByUUID(ctx, id)
			if err != nil {
				return err
			}
			if ref == nil {
				return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, id)
			}
			return uow.VideoReferences().Delete(ctx, ref)
		})
		m.observeStorage("videoreference.delete", start, err)
		if err != nil {
			m.writeError(w, ctx, err)
			return
		}
		m.publish(ctx, func() error {
			return m.p.PublishDeleted(ctx, event.EntityVideoReference, id, ref)
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "method not allowed", correlationID(ctx)))
	}
}

// downloadData is the response body for a presigned download link.
type downloadData struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleDownload handles GET /v1/videoreferences/{uuid}/download.
// The catalog never serves video bytes itself; for s3:// locations it hands
// out a short-lived presigned URL instead.
func (m *Mux) handleDownload(w http.ResponseWriter, r *http.Request, rawID string) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleDownload")
	defer span.End()

	id, err := convert.CanonicalUUID(rawID)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, err.Error(), correlationID(ctx)))
		return
	}
	span.SetAttributes(attribute.String("video_reference_uuid", id.String()))

	var ref *model.VideoReference
	err = m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		var err error
		ref, err = uow.VideoReferences().FindByUUID(ctx, id)
		return err
	})
	if err != nil {
		m.writeError(w, ctx, err)
		return
	}
	if ref == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_NOT_FOUND, "video reference not found", correlationID(ctx)))
		return
	}

	if m.mediaClient == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_UNAVAILABLE, "object storage is not configured", correlationID(ctx)))
		return
	}
	if _, _, err := media.SplitURI(ref.URI); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST,
			fmt.Sprintf("reference uri %q is not an s3 location", ref.URI), correlationID(ctx)))
		return
	}

	url, expiresAt, err := m.mediaClient.PresignDownload(ctx, ref.URI)
	if err != nil {
		span.SetStatus(codes.Error, "presign failed")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_INTERNAL, "failed to generate download URL", correlationID(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, downloadData{URL: url, ExpiresAt: expiresAt})
}

// --- media -------------------------------------------------------------------

// mediaRequest is the request body for the bulk Media projection.
type mediaRequest struct {
	Names []string `json:"names"`
}

// handleMedia handles POST /v1/media: the bulk flattened listing used by
// annotation tools to resolve everything about a set of dives in one call.
func (m *Mux) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vam-service").Start(r.Context(), "handleMedia")
	defer span.End()
	defer r.Body.Close()

	var req mediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "invalid JSON", correlationID(ctx)))
		return
	}
	if len(req.Names) == 0 {
		m.writeErrorDef(w, errordefs.New(errordefs.VAM_BAD_REQUEST, "names is required", correlationID(ctx)))
		return
	}
	span.SetAttributes(attribute.Int("names", len(req.Names)))

	var result []model.Media
	start := time.Now()
	err := m.s.WithTransaction(ctx, func(uow storage.UnitOfWork) error {
		var err error
		result, err = uow.VideoSequences().FindMediaByNames(ctx, req.Names)
		return err
	})
	m.observeStorage("media.find", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "find failed")
		m.writeError(w, ctx, err)
		return
	}
	if result == nil {
		result = []model.Media{}
	}
	m.writeSuccess(w, http.StatusOK, result)
}
