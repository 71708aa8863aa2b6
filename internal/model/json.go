// internal/model/json.go
// JSON codecs for the wire representation of catalog entities. Durations
// travel as millisecond counts and checksums as lowercase hex strings, which
// the default encoding of time.Duration (nanoseconds) and []byte (base64)
// would not give us.
package model

import (
	"encoding/json"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/convert"
	"github.com/google/uuid"
)

type videoJSON struct {
	UUID              uuid.UUID         `json:"uuid"`
	Name              string            `json:"name"`
	Start             time.Time         `json:"start"`
	DurationMillis    *int64            `json:"durationMillis,omitempty"`
	Description       string            `json:"description,omitempty"`
	Version           int64             `json:"version"`
	VideoSequenceUUID uuid.UUID         `json:"videoSequenceUuid"`
	References        []*VideoReference `json:"videoReferences,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v *Video) MarshalJSON() ([]byte, error) {
	return json.Marshal(videoJSON{
		UUID:              v.UUID,
		Name:              v.Name,
		Start:             v.Start,
		DurationMillis:    convert.DurationToMillis(v.Duration),
		Description:       v.Description,
		Version:           v.Version,
		VideoSequenceUUID: v.VideoSequenceUUID,
		References:        v.References,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Video) UnmarshalJSON(b []byte) error {
	var w videoJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v.UUID = w.UUID
	v.Name = w.Name
	v.Start = w.Start
	v.Duration = convert.MillisToDuration(w.DurationMillis)
	v.Description = w.Description
	v.Version = w.Version
	v.VideoSequenceUUID = w.VideoSequenceUUID
	v.References = w.References
	return nil
}

type videoReferenceJSON struct {
	UUID        uuid.UUID `json:"uuid"`
	URI         string    `json:"uri"`
	Container   string    `json:"container,omitempty"`
	VideoCodec  string    `json:"videoCodec,omitempty"`
	AudioCodec  string    `json:"audioCodec,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	FrameRate   float64   `json:"frameRate,omitempty"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
	Sha512      string    `json:"sha512,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	VideoUUID   uuid.UUID `json:"videoUuid"`
}

// MarshalJSON implements json.Marshaler.
func (r *VideoReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(videoReferenceJSON{
		UUID:        r.UUID,
		URI:         r.URI,
		Container:   r.Container,
		VideoCodec:  r.VideoCodec,
		AudioCodec:  r.AudioCodec,
		Width:       r.Width,
		Height:      r.Height,
		FrameRate:   r.FrameRate,
		SizeBytes:   r.SizeBytes,
		Sha512:      convert.EncodeChecksum(r.Sha512),
		Description: r.Description,
		Version:     r.Version,
		VideoUUID:   r.VideoUUID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A malformed checksum fails the
// whole decode so bad digests never reach storage.
func (r *VideoReference) UnmarshalJSON(b []byte) error {
	var w videoReferenceJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	digest, err := convert.DecodeChecksum(w.Sha512)
	if err != nil {
		return err
	}
	r.UUID = w.UUID
	r.URI = w.URI
	r.Container = w.Container
	r.VideoCodec = w.VideoCodec
	r.AudioCodec = w.AudioCodec
	r.Width = w.Width
	r.Height = w.Height
	r.FrameRate = w.FrameRate
	r.SizeBytes = w.SizeBytes
	if len(digest) > 0 {
		r.Sha512 = digest
	} else {
		r.Sha512 = nil
	}
	r.Description = w.Description
	r.Version = w.Version
	r.VideoUUID = w.VideoUUID
	return nil
}

type mediaJSON struct {
	VideoSequenceUUID        uuid.UUID `json:"videoSequenceUuid"`
	VideoUUID                uuid.UUID `json:"videoUuid"`
	VideoReferenceUUID       uuid.UUID `json:"videoReferenceUuid"`
	VideoSequenceName        string    `json:"videoSequenceName"`
	CameraID                 string    `json:"cameraId"`
	VideoName                string    `json:"videoName"`
	URI                      string    `json:"uri"`
	StartTimestamp           time.Time `json:"startTimestamp"`
	DurationMillis           *int64    `json:"durationMillis,omitempty"`
	Container                string    `json:"container,omitempty"`
	VideoCodec               string    `json:"videoCodec,omitempty"`
	AudioCodec               string    `json:"audioCodec,omitempty"`
	Width                    int       `json:"width,omitempty"`
	Height                   int       `json:"height,omitempty"`
	FrameRate                float64   `json:"frameRate,omitempty"`
	SizeBytes                int64     `json:"sizeBytes,omitempty"`
	Description              string    `json:"description,omitempty"`
	VideoSequenceDescription string    `json:"videoSequenceDescription,omitempty"`
	VideoDescription         string    `json:"videoDescription,omitempty"`
	Sha512                   string    `json:"sha512,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Media) MarshalJSON() ([]byte, error) {
	return json.Marshal(mediaJSON{
		VideoSequenceUUID:        m.VideoSequenceUUID,
		VideoUUID:                m.VideoUUID,
		VideoReferenceUUID:       m.VideoReferenceUUID,
		VideoSequenceName:        m.VideoSequenceName,
		CameraID:                 m.CameraID,
		VideoName:                m.VideoName,
		URI:                      m.URI,
		StartTimestamp:           m.StartTimestamp,
		DurationMillis:           convert.DurationToMillis(m.Duration),
		Container:                m.Container,
		VideoCodec:               m.VideoCodec,
		AudioCodec:               m.AudioCodec,
		Width:                    m.Width,
		Height:                   m.Height,
		FrameRate:                m.FrameRate,
		SizeBytes:                m.SizeBytes,
		Description:              m.Description,
		VideoSequenceDescription: m.VideoSequenceDescription,
		VideoDescription:         m.VideoDescription,
		Sha512:                   convert.EncodeChecksum(m.Sha512),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Media) UnmarshalJSON(b []byte) error {
	var w mediaJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	digest, err := convert.DecodeChecksum(w.Sha512)
	if err != nil {
		return err
	}
	m.VideoSequenceUUID = w.VideoSequenceUUID
	m.VideoUUID = w.VideoUUID
	m.VideoReferenceUUID = w.VideoReferenceUUID
	m.VideoSequenceName = w.VideoSequenceName
	m.CameraID = w.CameraID
	m.VideoName = w.VideoName
	m.URI = w.URI
	m.StartTimestamp = w.StartTimestamp
	m.Duration = convert.MillisToDuration(w.DurationMillis)
	m.Container = w.Container
	m.VideoCodec = w.VideoCodec
	m.AudioCodec = w.AudioCodec
	m.Width = w.Width
	m.Height = w.Height
	m.FrameRate = w.FrameRate
	m.SizeBytes = w.SizeBytes
	m.Description = w.Description
	m.VideoSequenceDescription = w.VideoSequenceDescription
	m.VideoDescription = w.VideoDescription
	if len(digest) > 0 {
		m.Sha512 = digest
	} else {
		m.Sha512 = nil
	}
	return nil
}
