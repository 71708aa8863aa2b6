// internal/model/entity.go
// Package model defines the data structures used throughout the VAM catalog
// service: the three-level ownership hierarchy of video sequences, videos,
// and video references, plus the flattened Media projection.
package model

import (
	"fmt"
	"sort"
	"time"

	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/google/uuid"
)

// VideoSequence represents one data-collection session (e.g. a survey dive).
// It is the root of the ownership hierarchy: deleting a sequence cascades to
// its videos and, transitively, their references.
// This corresponds to the video_sequences table in storage.
type VideoSequence struct {
	UUID        uuid.UUID `json:"uuid" db:"uuid"`              // System-generated identifier, immutable
	Name        string    `json:"name" db:"name"`              // Globally unique business key
	CameraID    string    `json:"cameraId" db:"camera_id"`     // Camera/platform identifier
	Description string    `json:"description,omitempty" db:"description"` // Free-text description
	Version     int64     `json:"version" db:"version"`        // Optimistic lock counter

	Videos []*Video `json:"videos,omitempty" db:"-"` // Owned videos, ordered by start ascending
}

// Video represents one continuous recording within a sequence.
// This corresponds to the videos table in storage.
type Video struct {
	UUID        uuid.UUID      `json:"uuid" db:"uuid"`
	Name        string         `json:"name" db:"name"`           // Globally unique business key
	Start       time.Time      `json:"start" db:"start_time"`    // Required recording start
	Duration    *time.Duration `json:"durationMillis,omitempty" db:"duration_millis"` // Optional, non-negative
	Description string         `json:"description,omitempty" db:"description"`
	Version     int64          `json:"version" db:"version"`

	VideoSequenceUUID uuid.UUID         `json:"videoSequenceUuid" db:"video_sequence_uuid"` // Required parent
	References        []*VideoReference `json:"videoReferences,omitempty" db:"-"`           // Owned references, unordered
}

// VideoReference represents one retrievable encoding/location of a video's
// content. The URI is globally unique; the checksum is optional and may
// legitimately be shared by several references to the same content.
// This corresponds to the video_references table in storage.
type VideoReference struct {
	UUID        uuid.UUID `json:"uuid" db:"uuid"`
	URI         string    `json:"uri" db:"uri"` // Globally unique location
	Container   string    `json:"container,omitempty" db:"container"`
	VideoCodec  string    `json:"videoCodec,omitempty" db:"video_codec"`
	AudioCodec  string    `json:"audioCodec,omitempty" db:"audio_codec"`
	Width       int       `json:"width,omitempty" db:"width"`
	Height      int       `json:"height,omitempty" db:"height"`
	FrameRate   float64   `json:"frameRate,omitempty" db:"frame_rate"`
	SizeBytes   int64     `json:"sizeBytes,omitempty" db:"size_bytes"`
	Sha512      []byte    `json:"sha512,omitempty" db:"sha512"` // Optional content digest
	Description string    `json:"description,omitempty" db:"description"`
	Version     int64     `json:"version" db:"version"`

	VideoUUID uuid.UUID `json:"videoUuid" db:"video_uuid"` // Required parent
}

// Media is a read-only flattened row combining one sequence, one video, and
// one reference. It is produced only by the bulk listing query, is never
// persisted, and carries no independent lifecycle.
type Media struct {
	VideoSequenceUUID        uuid.UUID      `json:"videoSequenceUuid"`
	VideoUUID                uuid.UUID      `json:"videoUuid"`
	VideoReferenceUUID       uuid.UUID      `json:"videoReferenceUuid"`
	VideoSequenceName        string         `json:"videoSequenceName"`
	CameraID                 string         `json:"cameraId"`
	VideoName                string         `json:"videoName"`
	URI                      string         `json:"uri"`
	StartTimestamp           time.Time      `json:"startTimestamp"`
	Duration                 *time.Duration `json:"durationMillis,omitempty"`
	Container                string         `json:"container,omitempty"`
	VideoCodec               string         `json:"videoCodec,omitempty"`
	AudioCodec               string         `json:"audioCodec,omitempty"`
	Width                    int            `json:"width,omitempty"`
	Height                   int            `json:"height,omitempty"`
	FrameRate                float64        `json:"frameRate,omitempty"`
	SizeBytes                int64          `json:"sizeBytes,omitempty"`
	Description              string         `json:"description,omitempty"`
	VideoSequenceDescription string         `json:"videoSequenceDescription,omitempty"`
	VideoDescription         string         `json:"videoDescription,omitempty"`
	Sha512                   []byte         `json:"sha512,omitempty"`
}

// AddVideo attaches a video to the sequence, setting the back-reference in
// the same step so there is no transient state where only one direction of
// the relationship is set. The owned collection stays ordered by start.
func (s *VideoSequence) AddVideo(v *Video) {
	s.Videos = append(s.Videos, v)
	v.VideoSequenceUUID = s.UUID
	sort.SliceStable(s.Videos, func(i, j int) bool {
		return s.Videos[i].Start.Before(s.Videos[j].Start)
	})
}

// RemoveVideo detaches a video from the sequence, clearing the back-reference
// before removal.
func (s *VideoSequence) RemoveVideo(v *Video) {
	for i, owned := range s.Videos {
		if owned.Equals(v) {
			owned.VideoSequenceUUID = uuid.Nil
			s.Videos = append(s.Videos[:i], s.Videos[i+1:]...)
			return
		}
	}
}

// VideoReferences returns every reference owned by the sequence's videos.
func (s *VideoSequence) VideoReferences() []*VideoReference {
	var refs []*VideoReference
	for _, v := range s.Videos {
		refs = append(refs, v.References...)
	}
	return refs
}

// Equals reports business-key equality. Two sequences are the same entity
// when their names match, independent of whether an identifier has been
// assigned yet.
func (s *VideoSequence) Equals(other *VideoSequence) bool {
	return other != nil && s.Name == other.Name
}

// Validate checks required fields before the entity reaches storage.
func (s *VideoSequence) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: video sequence name is required", errordefs.ErrInvalidEntity)
	}
	if s.CameraID == "" {
		return fmt.Errorf("%w: video sequence camera id is required", errordefs.ErrInvalidEntity)
	}
	return nil
}

// AddReference attaches a reference to the video, setting the back-reference
// atomically with the forward addition.
func (v *Video) AddReference(r *VideoReference) {
	v.References = append(v.References, r)
	r.VideoUUID = v.UUID
}

// RemoveReference detaches a reference, clearing its back-reference first.
func (v *Video) RemoveReference(r *VideoReference) {
	for i, owned := range v.References {
		if owned.Equals(r) {
			owned.VideoUUID = uuid.Nil
			v.References = append(v.References[:i], v.References[i+1:]...)
			return
		}
	}
}

// Equals reports business-key equality by name.
func (v *Video) Equals(other *Video) bool {
	return other != nil && v.Name == other.Name
}

// Validate checks required fields and the non-negative duration rule.
func (v *Video) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: video name is required", errordefs.ErrInvalidEntity)
	}
	if v.Start.IsZero() {
		return fmt.Errorf("%w: video start timestamp is required", errordefs.ErrInvalidEntity)
	}
	if v.VideoSequenceUUID == uuid.Nil {
		return fmt.Errorf("%w: video requires a parent video sequence", errordefs.ErrInvalidEntity)
	}
	if v.Duration != nil && *v.Duration < 0 {
		return fmt.Errorf("%w: video duration must be non-negative", errordefs.ErrInvalidEntity)
	}
	return nil
}

// Equals reports business-key equality by URI.
func (r *VideoReference) Equals(other *VideoReference) bool {
	return other != nil && r.URI == other.URI
}

// Validate checks required fields before the entity reaches storage.
func (r *VideoReference) Validate() error {
	if r.URI == "" {
		return fmt.Errorf("%w: video reference uri is required", errordefs.ErrInvalidEntity)
	}
	if r.VideoUUID == uuid.Nil {
		return fmt.Errorf("%w: video reference requires a parent video", errordefs.ErrInvalidEntity)
	}
	return nil
}
