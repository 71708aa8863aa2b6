// internal/storage/store.go
// Package storage provides the repository and unit-of-work layer of the VAM
// catalog for both in-memory and PostgreSQL backends.
package storage

import (
	"context"
	"iter"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/google/uuid"
)

// VideoSequenceRepository exposes catalog operations for recording sessions.
// Find methods return (nil, nil) when nothing matches; absence is not an
// error. Create assigns the identifier and validates required fields and
// uniqueness before anything is written. Update is a compare-and-increment
// over the version counter and fails with ErrStaleWrite when another writer
// committed first. Delete cascades to owned videos and their references.
type VideoSequenceRepository interface {
	Create(ctx context.Context, s *model.VideoSequence) error
	FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoSequence, error)
	FindByName(ctx context.Context, name string) (*model.VideoSequence, error)
	FindAll(ctx context.Context) ([]*model.VideoSequence, error)
	FindByCameraID(ctx context.Context, cameraID string) ([]*model.VideoSequence, error)
	FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.VideoSequence, error)
	FindByCameraIDBetweenDates(ctx context.Context, cameraID string, start, end time.Time) ([]*model.VideoSequence, error)
	FindByNameBetweenDates(ctx context.Context, name string, start, end time.Time) ([]*model.VideoSequence, error)
	FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) (*model.VideoSequence, error)

	// AllNames, NamesByCameraID, and AllCameraIDs return lazy, restartable
	// sequences: each range runs a fresh query and streams rows without
	// buffering the full result set.
	AllNames(ctx context.Context) iter.Seq2[string, error]
	NamesByCameraID(ctx context.Context, cameraID string) iter.Seq2[string, error]
	AllCameraIDs(ctx context.Context) iter.Seq2[string, error]

	// FindMediaByNames returns one flattened Media row per reference owned by
	// the named sequences, ordered by video start ascending. Names that match
	// nothing contribute no rows.
	FindMediaByNames(ctx context.Context, names []string) ([]model.Media, error)

	Update(ctx context.Context, s *model.VideoSequence) error
	Delete(ctx context.Context, s *model.VideoSequence) error
}

// NameAndStart pairs a video name with its start timestamp for bulk listing.
type NameAndStart struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// VideoRepository exposes catalog operations for individual recordings.
type VideoRepository interface {
	Create(ctx context.Context, v *model.Video) error
	FindByUUID(ctx context.Context, id uuid.UUID) (*model.Video, error)
	FindByName(ctx context.Context, name string) (*model.Video, error)
	FindByVideoSequenceUUID(ctx context.Context, sequenceUUID uuid.UUID) ([]*model.Video, error)
	FindByVideoReferenceUUID(ctx context.Context, referenceUUID uuid.UUID) (*model.Video, error)
	FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.Video, error)
	FindByNameLike(ctx context.Context, substring string) ([]*model.Video, error)

	AllNames(ctx context.Context) iter.Seq2[string, error]
	AllNamesAndStartDates(ctx context.Context) iter.Seq2[NameAndStart, error]

	Update(ctx context.Context, v *model.Video) error
	Delete(ctx context.Context, v *model.Video) error
}

// VideoReferenceRepository exposes catalog operations for file/stream
// locations. A checksum lookup may return several references: the same
// content registered at multiple locations is legitimate.
type VideoReferenceRepository interface {
	Create(ctx context.Context, r *model.VideoReference) error
	FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoReference, error)
	FindByURI(ctx context.Context, uri string) (*model.VideoReference, error)
	FindByChecksum(ctx context.Context, sha512 []byte) ([]*model.VideoReference, error)
	FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) ([]*model.VideoReference, error)
	FindByFilename(ctx context.Context, filename string) ([]*model.VideoReference, error)

	AllURIs(ctx context.Context) iter.Seq2[string, error]

	Update(ctx context.Context, r *model.VideoReference) error
	Delete(ctx context.Context, r *model.VideoReference) error
}

// UnitOfWork scopes a sequence of repository calls into one atomic
// transaction. Its state machine is Idle → Active → (Committed | RolledBack)
// with the terminal states final: Begin returns an Active unit, Commit and
// Rollback move to a terminal state and release the underlying resource, and
// any call after that fails with ErrTxDone. A unit of work is not safe for
// concurrent use by multiple goroutines.
type UnitOfWork interface {
	VideoSequences() VideoSequenceRepository
	Videos() VideoRepository
	VideoReferences() VideoReferenceRepository

	// Commit makes all pending writes visible atomically. On any constraint
	// or stale-write failure it rolls back automatically and surfaces the
	// originating error; nothing is left partially applied.
	Commit(ctx context.Context) error

	// Rollback discards all pending writes. Rolling back an already-terminal
	// unit is a no-op, so it is safe to defer.
	Rollback(ctx context.Context) error
}

// Store is the unit-of-work factory over a backing catalog store.
type Store interface {
	// Begin acquires the underlying transactional resource and returns an
	// Active unit of work.
	Begin(ctx context.Context) (UnitOfWork, error)

	// WithTransaction runs fn inside a unit of work, committing on success
	// and rolling back on error or panic. The underlying resource is
	// released on every path (scoped-acquisition guarantee).
	WithTransaction(ctx context.Context, fn func(uow UnitOfWork) error) error

	Ping(ctx context.Context) error
	Close()
}
