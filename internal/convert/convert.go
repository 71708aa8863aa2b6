// internal/convert/convert.go
// Package convert provides pure, stateless transformations between storage
// representations and domain values: checksum hex encoding, millisecond
// timestamps and durations, UUID canonicalization, and URI parsing.
package convert

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/google/uuid"
)

// CanonicalUUID parses a UUID string in any case and returns the parsed value.
// The canonical string form everywhere in this service is lowercase; callers
// that need the storage representation should use CanonicalUUIDString.
func CanonicalUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return id, nil
}

// CanonicalUUIDString returns the lowercase canonical string form of a UUID.
// uuid.UUID.String already emits lowercase; this function exists so the case
// convention is a single deliberate, tested choice rather than an accident.
func CanonicalUUIDString(id uuid.UUID) string {
	return strings.ToLower(id.String())
}

// EncodeChecksum encodes a binary digest as lowercase hex.
// A nil or empty digest encodes to the empty string.
func EncodeChecksum(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeChecksum decodes a hex-encoded digest. Both cases are accepted on
// input; malformed strings fail with ErrMalformedChecksum rather than a
// decoding panic. The empty string decodes to an empty digest.
func DecodeChecksum(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errordefs.ErrMalformedChecksum, s)
	}
	return b, nil
}

// FloorMillis truncates a timestamp to millisecond precision.
// Storage precision is milliseconds; sub-millisecond data supplied upstream
// is dropped by an explicit millisecond-floor, never silently inside a driver.
func FloorMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// MillisToTime converts an epoch-millisecond value to a UTC instant.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TimeToMillis converts an instant to epoch milliseconds (millisecond-floor).
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// DurationToMillis converts an optional duration to an optional millisecond
// count for storage. Nil stays nil.
func DurationToMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// MillisToDuration converts an optional stored millisecond count back to a
// duration. Nil stays nil.
func MillisToDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// ParseURI validates a URI on the write path. The string must parse as an
// absolute URI with a scheme; anything else fails with ErrMalformedURI so a
// bad location can never enter the catalog through this service.
func ParseURI(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("%w: %q", errordefs.ErrMalformedURI, s)
	}
	return u.String(), nil
}

// ParseStoredURI is the lenient read-path counterpart of ParseURI. Rows
// written before this service enforced strict parsing may hold malformed
// URIs; those are logged and surfaced as an empty value instead of failing
// the whole read.
func ParseStoredURI(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		slog.Warn("bad URI found in storage, surfacing as empty", "uri", s)
		return ""
	}
	return u.String()
}
