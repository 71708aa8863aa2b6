package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/google/uuid"
)

func TestAddVideoKeepsStartOrder(t *testing.T) {
	s := &VideoSequence{UUID: uuid.New(), Name: "dive-001", CameraID: "cam-a"}
	late := &Video{Name: "b", Start: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	early := &Video{Name: "a", Start: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}

	s.AddVideo(late)
	s.AddVideo(early)

	if s.Videos[0] != early || s.Videos[1] != late {
		t.Errorf("videos not ordered by start: %s, %s", s.Videos[0].Name, s.Videos[1].Name)
	}
	// Both directions of the relationship are set in the same step.
	if early.VideoSequenceUUID != s.UUID || late.VideoSequenceUUID != s.UUID {
		t.Error("AddVideo did not set the back-reference")
	}
}

func TestRemoveVideoClearsBackReference(t *testing.T) {
	s := &VideoSequence{UUID: uuid.New(), Name: "dive-001", CameraID: "cam-a"}
	v := &Video{Name: "a", Start: time.Now()}
	s.AddVideo(v)

	s.RemoveVideo(v)

	if len(s.Videos) != 0 {
		t.Errorf("video not removed, %d remain", len(s.Videos))
	}
	if v.VideoSequenceUUID != uuid.Nil {
		t.Error("RemoveVideo left the back-reference set")
	}
}

func TestAddRemoveReference(t *testing.T) {
	v := &Video{UUID: uuid.New(), Name: "a", Start: time.Now()}
	ref := &VideoReference{URI: "s3://bucket/a.mov"}

	v.AddReference(ref)
	if ref.VideoUUID != v.UUID || len(v.References) != 1 {
		t.Fatal("AddReference did not attach both directions")
	}

	v.RemoveReference(ref)
	if ref.VideoUUID != uuid.Nil || len(v.References) != 0 {
		t.Error("RemoveReference did not detach both directions")
	}
}

// TestBusinessKeyEquality verifies entities compare by business key, not by
// identifier: a not-yet-persisted entity equals its stored counterpart.
func TestBusinessKeyEquality(t *testing.T) {
	stored := &VideoSequence{UUID: uuid.New(), Name: "dive-001"}
	fresh := &VideoSequence{Name: "dive-001"}
	if !stored.Equals(fresh) {
		t.Error("sequences with the same name are not equal")
	}
	if stored.Equals(&VideoSequence{Name: "dive-002"}) {
		t.Error("sequences with different names are equal")
	}

	if !(&Video{Name: "v"}).Equals(&Video{Name: "v", UUID: uuid.New()}) {
		t.Error("videos with the same name are not equal")
	}
	if !(&VideoReference{URI: "s3://b/k"}).Equals(&VideoReference{URI: "s3://b/k"}) {
		t.Error("references with the same uri are not equal")
	}
	var nilSeq *VideoSequence
	if stored.Equals(nilSeq) {
		t.Error("sequence equals nil")
	}
}

func TestVideoSequenceValidate(t *testing.T) {
	valid := &VideoSequence{Name: "dive-001", CameraID: "cam-a"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid sequence rejected: %v", err)
	}

	for _, s := range []*VideoSequence{
		{CameraID: "cam-a"},
		{Name: "dive-001"},
	} {
		if err := s.Validate(); !errors.Is(err, errordefs.ErrInvalidEntity) {
			t.Errorf("Validate(%+v) error = %v, want ErrInvalidEntity", s, err)
		}
	}
}

func TestVideoValidate(t *testing.T) {
	parent := uuid.New()
	start := time.Now()
	good := 90 * time.Minute
	bad := -time.Second

	valid := &Video{Name: "v", Start: start, VideoSequenceUUID: parent, Duration: &good}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid video rejected: %v", err)
	}

	for _, v := range []*Video{
		{Start: start, VideoSequenceUUID: parent},          // missing name
		{Name: "v", VideoSequenceUUID: parent},             // missing start
		{Name: "v", Start: start},                          // missing parent
		{Name: "v", Start: start, VideoSequenceUUID: parent, Duration: &bad}, // negative duration
	} {
		if err := v.Validate(); !errors.Is(err, errordefs.ErrInvalidEntity) {
			t.Errorf("Validate(%+v) error = %v, want ErrInvalidEntity", v, err)
		}
	}
}

func TestVideoReferenceValidate(t *testing.T) {
	if err := (&VideoReference{URI: "s3://b/k", VideoUUID: uuid.New()}).Validate(); err != nil {
		t.Errorf("valid reference rejected: %v", err)
	}
	if err := (&VideoReference{VideoUUID: uuid.New()}).Validate(); !errors.Is(err, errordefs.ErrInvalidEntity) {
		t.Error("reference without uri accepted")
	}
	if err := (&VideoReference{URI: "s3://b/k"}).Validate(); !errors.Is(err, errordefs.ErrInvalidEntity) {
		t.Error("reference without parent accepted")
	}
}

// TestVideoJSONDuration verifies durations travel as millisecond counts on
// the wire, not nanoseconds.
func TestVideoJSONDuration(t *testing.T) {
	d := 90 * time.Minute
	v := &Video{
		UUID:              uuid.New(),
		Name:              "v",
		Start:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration:          &d,
		VideoSequenceUUID: uuid.New(),
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if ms, ok := raw["durationMillis"].(float64); !ok || ms != 5_400_000 {
		t.Errorf("durationMillis = %v, want 5400000", raw["durationMillis"])
	}

	var back Video
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Duration == nil || *back.Duration != d {
		t.Errorf("duration round trip = %v, want %v", back.Duration, d)
	}
}

// TestVideoReferenceJSONChecksum verifies checksums travel as lowercase hex
// and malformed input fails the decode.
func TestVideoReferenceJSONChecksum(t *testing.T) {
	ref := &VideoReference{
		URI:       "s3://b/k",
		Sha512:    []byte{0xde, 0xad, 0xbe, 0xef},
		VideoUUID: uuid.New(),
	}
	b, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["sha512"] != "deadbeef" {
		t.Errorf("sha512 = %v, want deadbeef", raw["sha512"])
	}

	var back VideoReference
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Sha512) != 4 {
		t.Errorf("checksum round trip = %x", back.Sha512)
	}

	if err := json.Unmarshal([]byte(`{"uri":"s3://b/k","sha512":"zzzz"}`), &back); !errors.Is(err, errordefs.ErrMalformedChecksum) {
		t.Errorf("malformed checksum decode error = %v, want ErrMalformedChecksum", err)
	}
}

func TestVideoReferencesFlatten(t *testing.T) {
	s := &VideoSequence{UUID: uuid.New(), Name: "dive-001", CameraID: "cam-a"}
	v1 := &Video{UUID: uuid.New(), Name: "a", Start: time.Now()}
	v2 := &Video{UUID: uuid.New(), Name: "b", Start: time.Now().Add(time.Hour)}
	s.AddVideo(v1)
	s.AddVideo(v2)
	v1.AddReference(&VideoReference{URI: "s3://b/1"})
	v1.AddReference(&VideoReference{URI: "s3://b/2"})
	v2.AddReference(&VideoReference{URI: "s3://b/3"})

	if got := len(s.VideoReferences()); got != 3 {
		t.Errorf("VideoReferences() returned %d, want 3", got)
	}
}
