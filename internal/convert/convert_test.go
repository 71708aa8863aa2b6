package convert

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
)

// TestChecksumRoundTrip covers the empty digest, a typical digest, and a full
// 64-byte SHA-512 digest.
func TestChecksumRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{0xde, 0xad, 0xbe, 0xef},
		bytes.Repeat([]byte{0xab}, 64),
	}
	for _, digest := range cases {
		encoded := EncodeChecksum(digest)
		if encoded != strings.ToLower(encoded) {
			t.Errorf("EncodeChecksum(%x) = %q, not lowercase", digest, encoded)
		}
		decoded, err := DecodeChecksum(encoded)
		if err != nil {
			t.Fatalf("DecodeChecksum(%q) error = %v", encoded, err)
		}
		if !bytes.Equal(decoded, digest) && !(len(decoded) == 0 && len(digest) == 0) {
			t.Errorf("round trip of %x gave %x", digest, decoded)
		}
	}
}

// TestDecodeChecksumCaseInsensitive verifies uppercase input decodes to the
// same digest as lowercase.
func TestDecodeChecksumCaseInsensitive(t *testing.T) {
	lower, err := DecodeChecksum("deadbeef")
	if err != nil {
		t.Fatalf("lowercase decode: %v", err)
	}
	upper, err := DecodeChecksum("DEADBEEF")
	if err != nil {
		t.Fatalf("uppercase decode: %v", err)
	}
	if !bytes.Equal(lower, upper) {
		t.Errorf("case-sensitive decode: %x vs %x", lower, upper)
	}
}

// TestDecodeChecksumMalformed verifies non-hex and odd-length strings are
// rejected with the checksum sentinel, not a generic error.
func TestDecodeChecksumMalformed(t *testing.T) {
	for _, in := range []string{"zzzz", "abc", "0x1234"} {
		_, err := DecodeChecksum(in)
		if !errors.Is(err, errordefs.ErrMalformedChecksum) {
			t.Errorf("DecodeChecksum(%q) error = %v, want ErrMalformedChecksum", in, err)
		}
	}
}

// TestFloorMillis verifies sub-millisecond precision is dropped and already
// aligned instants pass through unchanged.
func TestFloorMillis(t *testing.T) {
	in := time.Date(2024, 3, 15, 10, 0, 0, 123_456_789, time.UTC)
	want := time.Date(2024, 3, 15, 10, 0, 0, 123_000_000, time.UTC)
	if got := FloorMillis(in); !got.Equal(want) {
		t.Errorf("FloorMillis = %v, want %v", got, want)
	}
	if got := FloorMillis(want); !got.Equal(want) {
		t.Errorf("FloorMillis changed an aligned instant: %v", got)
	}
}

func TestMillisTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, 3, 15, 10, 0, 0, 123_000_000, time.UTC)
	if got := MillisToTime(TimeToMillis(in)); !got.Equal(in) {
		t.Errorf("millis round trip = %v, want %v", got, in)
	}
}

func TestDurationMillis(t *testing.T) {
	if DurationToMillis(nil) != nil {
		t.Error("DurationToMillis(nil) != nil")
	}
	if MillisToDuration(nil) != nil {
		t.Error("MillisToDuration(nil) != nil")
	}
	d := 90 * time.Minute
	ms := DurationToMillis(&d)
	if ms == nil || *ms != 5_400_000 {
		t.Fatalf("DurationToMillis(90m) = %v", ms)
	}
	back := MillisToDuration(ms)
	if back == nil || *back != d {
		t.Errorf("MillisToDuration round trip = %v, want %v", back, d)
	}
}

// TestParseURI verifies the strict write-path rule: a URI must carry a scheme.
func TestParseURI(t *testing.T) {
	got, err := ParseURI("s3://survey-archive/dive-042/segment-01.mov")
	if err != nil || got != "s3://survey-archive/dive-042/segment-01.mov" {
		t.Errorf("ParseURI valid = %q, %v", got, err)
	}

	for _, in := range []string{"", "not a uri at all", "/just/a/path"} {
		if _, err := ParseURI(in); !errors.Is(err, errordefs.ErrMalformedURI) {
			t.Errorf("ParseURI(%q) error = %v, want ErrMalformedURI", in, err)
		}
	}
}

// TestParseStoredURI documents the lenient read-path policy: rows written
// before strict parsing surface a malformed URI as an empty value instead of
// failing the whole read.
func TestParseStoredURI(t *testing.T) {
	if got := ParseStoredURI("http://media.example.org/a.mp4"); got != "http://media.example.org/a.mp4" {
		t.Errorf("ParseStoredURI valid = %q", got)
	}
	if got := ParseStoredURI("/legacy/relative/path.mov"); got != "" {
		t.Errorf("ParseStoredURI malformed = %q, want empty", got)
	}
}

// TestCanonicalUUID verifies any input case parses and the canonical string
// form is lowercase.
func TestCanonicalUUID(t *testing.T) {
	id, err := CanonicalUUID("A1B2C3D4-E5F6-4789-8ABC-DEF012345678")
	if err != nil {
		t.Fatalf("CanonicalUUID uppercase: %v", err)
	}
	s := CanonicalUUIDString(id)
	if s != strings.ToLower(s) {
		t.Errorf("CanonicalUUIDString = %q, not lowercase", s)
	}
	if s != "a1b2c3d4-e5f6-4789-8abc-def012345678" {
		t.Errorf("CanonicalUUIDString = %q", s)
	}

	if _, err := CanonicalUUID("not-a-uuid"); err == nil {
		t.Error("CanonicalUUID accepted garbage")
	}
}
