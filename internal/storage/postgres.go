// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface. This implementation is
// intended for production use: the schema enforces the uniqueness and
// foreign-key constraints as a second line of defense behind the client-side
// checks, and every unit of work maps onto one database transaction.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/convert"
	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL store. It establishes a connection
// pool, verifies connectivity, and initializes the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Postgres{db: pool}, nil
}

// initSchema creates the catalog tables and indexes if they don't exist.
// UUID canonicalization is handled by the native uuid type; checksums are
// lowercase hex; durations are millisecond counts.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS video_sequences (
		    uuid UUID PRIMARY KEY,
		    name TEXT NOT NULL UNIQUE,
		    camera_id TEXT NOT NULL,
		    description TEXT,
		    version BIGINT NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_video_sequences__camera_id ON video_sequences(camera_id);

		CREATE TABLE IF NOT EXISTS videos (
		    uuid UUID PRIMARY KEY,
		    name TEXT NOT NULL UNIQUE,
		    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
		    duration_millis BIGINT,
		    description TEXT,
		    version BIGINT NOT NULL DEFAULT 0,
		    video_sequence_uuid UUID NOT NULL REFERENCES video_sequences(uuid) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_videos__start_time ON videos(start_time);
		CREATE INDEX IF NOT EXISTS idx_videos__video_sequence_uuid ON videos(video_sequence_uuid);

		CREATE TABLE IF NOT EXISTS video_references (
		    uuid UUID PRIMARY KEY,
		    uri TEXT NOT NULL UNIQUE,
		    container TEXT,
		    video_codec TEXT,
		    audio_codec TEXT,
		    width INTEGER,
		    height INTEGER,
		    frame_rate DOUBLE PRECISION,
		    size_bytes BIGINT,
		    sha512 TEXT,
		    description TEXT,
		    version BIGINT NOT NULL DEFAULT 0,
		    video_uuid UUID NOT NULL REFERENCES videos(uuid) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_video_references__sha512 ON video_references(sha512);
		CREATE INDEX IF NOT EXISTS idx_video_references__video_uuid ON video_references(video_uuid);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", errordefs.ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.db.Close()
}

// Begin starts a database transaction and returns the unit of work bound to it.
func (p *Postgres) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", errordefs.ErrStorageUnavailable, err)
	}
	u := &pgUOW{tx: tx}
	u.seqRepo = &pgSequenceRepo{u}
	u.vidRepo = &pgVideoRepo{u}
	u.refRepo = &pgReferenceRepo{u}
	return u, nil
}

// WithTransaction runs fn inside a unit of work, committing on success and
// rolling back on error or panic so the connection is always released.
func (p *Postgres) WithTransaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow, err := p.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback(ctx)
	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

type pgUOW struct {
	tx    pgx.Tx
	state uowState

	seqRepo *pgSequenceRepo
	vidRepo *pgVideoRepo
	refRepo *pgReferenceRepo
}

func (u *pgUOW) VideoSequences() VideoSequenceRepository   { return u.seqRepo }
func (u *pgUOW) Videos() VideoRepository                   { return u.vidRepo }
func (u *pgUOW) VideoReferences() VideoReferenceRepository { return u.refRepo }

func (u *pgUOW) active(ctx context.Context) error {
	if u.state != uowActive {
		return ErrTxDone
	}
	return ctx.Err()
}

// Commit commits the transaction. Constraint violations the engine detects
// late surface here; the transaction is already dead in that case, so the
// unit transitions to RolledBack and the originating error is returned.
func (u *pgUOW) Commit(ctx context.Context) error {
	if u.state != uowActive {
		return ErrTxDone
	}
	if err := u.tx.Commit(ctx); err != nil {
		u.state = uowRolledBack
		_ = u.tx.Rollback(context.WithoutCancel(ctx))
		return mapPgError(err)
	}
	u.state = uowCommitted
	return nil
}

// Rollback discards the transaction. Safe to defer: rolling back a terminal
// unit is a no-op.
func (u *pgUOW) Rollback(ctx context.Context) error {
	if u.state != uowActive {
		return nil
	}
	u.state = uowRolledBack
	if err := u.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: rollback: %v", errordefs.ErrStorageUnavailable, err)
	}
	return nil
}

// mapPgError converts engine errors into the catalog's error taxonomy.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", errordefs.ErrConstraintViolation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", errordefs.ErrNotFound, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", errordefs.ErrStorageUnavailable, err)
}

// --- row scanning helpers ---------------------------------------------------

const sequenceColumns = "uuid, name, camera_id, description, version"
const videoColumns = "uuid, name, start_time, duration_millis, description, version, video_sequence_uuid"
const referenceColumns = "uuid, uri, container, video_codec, audio_codec, width, height, frame_rate, size_bytes, sha512, description, version, video_uuid"

func scanSequence(row pgx.Row) (*model.VideoSequence, error) {
	var s model.VideoSequence
	var desc *string
	if err := row.Scan(&s.UUID, &s.Name, &s.CameraID, &desc, &s.Version); err != nil {
		return nil, err
	}
	if desc != nil {
		s.Description = *desc
	}
	return &s, nil
}

func scanVideo(row pgx.Row) (*model.Video, error) {
	var v model.Video
	var durationMillis *int64
	var desc *string
	if err := row.Scan(&v.UUID, &v.Name, &v.Start, &durationMillis, &desc, &v.Version, &v.VideoSequenceUUID); err != nil {
		return nil, err
	}
	v.Start = v.Start.UTC()
	v.Duration = convert.MillisToDuration(durationMillis)
	if desc != nil {
		v.Description = *desc
	}
	return &v, nil
}

func scanReference(row pgx.Row) (*model.VideoReference, error) {
	var r model.VideoReference
	var container, videoCodec, audioCodec, sha512, desc *string
	var width, height *int32
	var frameRate *float64
	var sizeBytes *int64
	if err := row.Scan(&r.UUID, &r.URI, &container, &videoCodec, &audioCodec, &width, &height, &frameRate, &sizeBytes, &sha512, &desc, &r.Version, &r.VideoUUID); err != nil {
		return nil, err
	}
	// Rows written before strict write-side parsing may carry a malformed
	// URI; surface it as empty rather than failing the read.
	r.URI = convert.ParseStoredURI(r.URI)
	if container != nil {
		r.Container = *container
	}
	if videoCodec != nil {
		r.VideoCodec = *videoCodec
	}
	if audioCodec != nil {
		r.AudioCodec = *audioCodec
	}
	if width != nil {
		r.Width = int(*width)
	}
	if height != nil {
		r.Height = int(*height)
	}
	if frameRate != nil {
		r.FrameRate = *frameRate
	}
	if sizeBytes != nil {
		r.SizeBytes = *sizeBytes
	}
	if sha512 != nil && *sha512 != "" {
		digest, err := convert.DecodeChecksum(*sha512)
		if err != nil {
			return nil, err
		}
		r.Sha512 = digest
	}
	if desc != nil {
		r.Description = *desc
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// queryStrings streams a single-column query as a lazy, restartable sequence.
// Each range call runs a fresh query; the rows are not buffered. The sequence
// must be fully consumed (or abandoned) before issuing other calls on the
// same unit of work, since the transaction carries one connection. Ranging
// after the unit reached a terminal state yields ErrTxDone.
func (u *pgUOW) queryStrings(ctx context.Context, sql string, args ...any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := u.active(ctx); err != nil {
			yield("", err)
			return
		}
		rows, err := u.tx.Query(ctx, sql, args...)
		if err != nil {
			yield("", mapPgError(err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				yield("", mapPgError(err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", mapPgError(err))
		}
	}
}

// --- VideoSequence repository ----------------------------------------------

type pgSequenceRepo struct{ u *pgUOW }

func (r *pgSequenceRepo) Create(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	// Client-side uniqueness check; the UNIQUE constraint remains the second
	// line of defense at commit.
	var taken bool
	if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_sequences WHERE name = $1)`, s.Name).Scan(&taken); err != nil {
		return mapPgError(err)
	}
	if taken {
		return fmt.Errorf("%w: video sequence name %q already in use", errordefs.ErrConstraintViolation, s.Name)
	}
	s.UUID = uuid.New()
	s.Version = 0
	_, err := r.u.tx.Exec(ctx,
		`INSERT INTO video_sequences (uuid, name, camera_id, description, version) VALUES ($1, $2, $3, $4, $5)`,
		s.UUID, s.Name, s.CameraID, nullable(s.Description), s.Version)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *pgSequenceRepo) find(ctx context.Context, where string, args ...any) ([]*model.VideoSequence, error) {
	rows, err := r.u.tx.Query(ctx, `SELECT `+sequenceColumns+` FROM video_sequences `+where, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	var out []*model.VideoSequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			rows.Close()
			return nil, mapPgError(err)
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	for _, s := range out {
		if err := r.load(ctx, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// load populates a sequence's videos (ordered by start ascending) and each
// video's references. Queries run sequentially: a transaction has a single
// connection, so no two queries may be open at once.
func (r *pgSequenceRepo) load(ctx context.Context, s *model.VideoSequence) error {
	videos, err := r.u.vidRepo.FindByVideoSequenceUUID(ctx, s.UUID)
	if err != nil {
		return err
	}
	s.Videos = videos
	return nil
}

func (r *pgSequenceRepo) findOne(ctx context.Context, where string, args ...any) (*model.VideoSequence, error) {
	out, err := r.find(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *pgSequenceRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uuid = $1`, id)
}

func (r *pgSequenceRepo) FindByName(ctx context.Context, name string) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE name = $1`, name)
}

func (r *pgSequenceRepo) FindAll(ctx context.Context) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `ORDER BY name ASC`)
}

func (r *pgSequenceRepo) FindByCameraID(ctx context.Context, cameraID string) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE camera_id = $1 ORDER BY name ASC`, cameraID)
}

func (r *pgSequenceRepo) FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx,
		`WHERE uuid IN (SELECT video_sequence_uuid FROM videos WHERE start_time BETWEEN $1 AND $2) ORDER BY name ASC`,
		convert.FloorMillis(start), convert.FloorMillis(end))
}

func (r *pgSequenceRepo) FindByCameraIDBetweenDates(ctx context.Context, cameraID string, start, end time.Time) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx,
		`WHERE camera_id = $1 AND uuid IN (SELECT video_sequence_uuid FROM videos WHERE start_time BETWEEN $2 AND $3) ORDER BY name ASC`,
		cameraID, convert.FloorMillis(start), convert.FloorMillis(end))
}

func (r *pgSequenceRepo) FindByNameBetweenDates(ctx context.Context, name string, start, end time.Time) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx,
		`WHERE name = $1 AND uuid IN (SELECT video_sequence_uuid FROM videos WHERE start_time BETWEEN $2 AND $3) ORDER BY name ASC`,
		name, convert.FloorMillis(start), convert.FloorMillis(end))
}

func (r *pgSequenceRepo) FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uuid = (SELECT video_sequence_uuid FROM videos WHERE uuid = $1)`, videoUUID)
}

func (r *pgSequenceRepo) AllNames(ctx context.Context) iter.Seq2[string, error] {
	return r.u.queryStrings(ctx, `SELECT name FROM video_sequences ORDER BY name ASC`)
}

func (r *pgSequenceRepo) NamesByCameraID(ctx context.Context, cameraID string) iter.Seq2[string, error] {
	return r.u.queryStrings(ctx, `SELECT name FROM video_sequences WHERE camera_id = $1 ORDER BY name ASC`, cameraID)
}

func (r *pgSequenceRepo) AllCameraIDs(ctx context.Context) iter.Seq2[string, error] {
	return r.u.queryStrings(ctx, `SELECT DISTINCT camera_id FROM video_sequences ORDER BY camera_id ASC`)
}

func (r *pgSequenceRepo) FindMediaByNames(ctx context.Context, names []string) ([]model.Media, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	rows, err := r.u.tx.Query(ctx, `
		SELECT s.uuid, v.uuid, x.uuid, s.name, s.camera_id, v.name, x.uri,
		       v.start_time, v.duration_millis, x.container, x.video_codec,
		       x.audio_codec, x.width, x.height, x.frame_rate, x.size_bytes,
		       x.description, s.description, v.description, x.sha512
		FROM video_sequences s
		JOIN videos v ON v.video_sequence_uuid = s.uuid
		JOIN video_references x ON x.video_uuid = v.uuid
		WHERE s.name = ANY($1)
		ORDER BY v.start_time ASC`, names)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var out []model.Media
	for rows.Next() {
		var m model.Media
		var durationMillis *int64
		var container, videoCodec, audioCodec, desc, seqDesc, vidDesc, sha512 *string
		var width, height *int32
		var frameRate *float64
		var sizeBytes *int64
		if err := rows.Scan(&m.VideoSequenceUUID, &m.VideoUUID, &m.VideoReferenceUUID,
			&m.VideoSequenceName, &m.CameraID, &m.VideoName, &m.URI,
			&m.StartTimestamp, &durationMillis, &container, &videoCodec,
			&audioCodec, &width, &height, &frameRate, &sizeBytes,
			&desc, &seqDesc, &vidDesc, &sha512); err != nil {
			return nil, mapPgError(err)
		}
		m.StartTimestamp = m.StartTimestamp.UTC()
		m.URI = convert.ParseStoredURI(m.URI)
		m.Duration = convert.MillisToDuration(durationMillis)
		if container != nil {
			m.Container = *container
		}
		if videoCodec != nil {
			m.VideoCodec = *videoCodec
		}
		if audioCodec != nil {
			m.AudioCodec = *audioCodec
		}
		if width != nil {
			m.Width = int(*width)
		}
		if height != nil {
			m.Height = int(*height)
		}
		if frameRate != nil {
			m.FrameRate = *frameRate
		}
		if sizeBytes != nil {
			m.SizeBytes = *sizeBytes
		}
		if desc != nil {
			m.Description = *desc
		}
		if seqDesc != nil {
			m.VideoSequenceDescription = *seqDesc
		}
		if vidDesc != nil {
			m.VideoDescription = *vidDesc
		}
		if sha512 != nil && *sha512 != "" {
			digest, err := convert.DecodeChecksum(*sha512)
			if err != nil {
				return nil, err
			}
			m.Sha512 = digest
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func (r *pgSequenceRepo) Update(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	// Compare-and-increment over the version counter: no row lock is held
	// while the caller edits, conflicts surface as zero rows affected.
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE video_sequences SET name = $1, camera_id = $2, description = $3, version = version + 1
		 WHERE uuid = $4 AND version = $5`,
		s.Name, s.CameraID, nullable(s.Description), s.UUID, s.Version)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, s.UUID)
	}
	s.Version++
	return nil
}

func (r *pgSequenceRepo) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_sequences WHERE uuid = $1)`, id).Scan(&exists); err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, id)
	}
	return fmt.Errorf("%w: video sequence %s", errordefs.ErrStaleWrite, id)
}

func (r *pgSequenceRepo) Delete(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	// ON DELETE CASCADE removes owned videos and references in the same
	// transaction.
	tag, err := r.u.tx.Exec(ctx, `DELETE FROM video_sequences WHERE uuid = $1`, s.UUID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, s.UUID)
	}
	return nil
}

// --- Video repository -------------------------------------------------------

type pgVideoRepo struct{ u *pgUOW }

func (r *pgVideoRepo) Create(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	var taken bool
	if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM videos WHERE name = $1)`, v.Name).Scan(&taken); err != nil {
		return mapPgError(err)
	}
	if taken {
		return fmt.Errorf("%w: video name %q already in use", errordefs.ErrConstraintViolation, v.Name)
	}
	v.UUID = uuid.New()
	v.Version = 0
	v.Start = convert.FloorMillis(v.Start)
	_, err := r.u.tx.Exec(ctx,
		`INSERT INTO videos (uuid, name, start_time, duration_millis, description, version, video_sequence_uuid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.UUID, v.Name, v.Start, convert.DurationToMillis(v.Duration), nullable(v.Description), v.Version, v.VideoSequenceUUID)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *pgVideoRepo) find(ctx context.Context, where string, args ...any) ([]*model.Video, error) {
	rows, err := r.u.tx.Query(ctx, `SELECT `+videoColumns+` FROM videos `+where, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	var out []*model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			rows.Close()
			return nil, mapPgError(err)
		}
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	for _, v := range out {
		refs, err := r.u.refRepo.FindByVideoUUID(ctx, v.UUID)
		if err != nil {
			return nil, err
		}
		v.References = refs
	}
	return out, nil
}

func (r *pgVideoRepo) findOne(ctx context.Context, where string, args ...any) (*model.Video, error) {
	out, err := r.find(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *pgVideoRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uuid = $1`, id)
}

func (r *pgVideoRepo) FindByName(ctx context.Context, name string) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE name = $1`, name)
}

func (r *pgVideoRepo) FindByVideoSequenceUUID(ctx context.Context, sequenceUUID uuid.UUID) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE video_sequence_uuid = $1 ORDER BY start_time ASC`, sequenceUUID)
}

func (r *pgVideoRepo) FindByVideoReferenceUUID(ctx context.Context, referenceUUID uuid.UUID) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uuid = (SELECT video_uuid FROM video_references WHERE uuid = $1)`, referenceUUID)
}

func (r *pgVideoRepo) FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE start_time BETWEEN $1 AND $2 ORDER BY start_time ASC`,
		convert.FloorMillis(start), convert.FloorMillis(end))
}

func (r *pgVideoRepo) FindByNameLike(ctx context.Context, substring string) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE name LIKE '%' || $1 || '%' ORDER BY name ASC`, substring)
}

func (r *pgVideoRepo) AllNames(ctx context.Context) iter.Seq2[string, error] {
	return r.u.queryStrings(ctx, `SELECT name FROM videos ORDER BY name ASC`)
}

func (r *pgVideoRepo) AllNamesAndStartDates(ctx context.Context) iter.Seq2[NameAndStart, error] {
	return func(yield func(NameAndStart, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield(NameAndStart{}, err)
			return
		}
		rows, err := r.u.tx.Query(ctx, `SELECT name, start_time FROM videos ORDER BY start_time ASC`)
		if err != nil {
			yield(NameAndStart{}, mapPgError(err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var row NameAndStart
			if err := rows.Scan(&row.Name, &row.Start); err != nil {
				yield(NameAndStart{}, mapPgError(err))
				return
			}
			row.Start = row.Start.UTC()
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(NameAndStart{}, mapPgError(err))
		}
	}
}

func (r *pgVideoRepo) Update(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	v.Start = convert.FloorMillis(v.Start)
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE videos SET name = $1, start_time = $2, duration_millis = $3, description = $4,
		        video_sequence_uuid = $5, version = version + 1
		 WHERE uuid = $6 AND version = $7`,
		v.Name, v.Start, convert.DurationToMillis(v.Duration), nullable(v.Description),
		v.VideoSequenceUUID, v.UUID, v.Version)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM videos WHERE uuid = $1)`, v.UUID).Scan(&exists); err != nil {
			return mapPgError(err)
		}
		if !exists {
			return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, v.UUID)
		}
		return fmt.Errorf("%w: video %s", errordefs.ErrStaleWrite, v.UUID)
	}
	v.Version++
	return nil
}

func (r *pgVideoRepo) Delete(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	tag, err := r.u.tx.Exec(ctx, `DELETE FROM videos WHERE uuid = $1`, v.UUID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, v.UUID)
	}
	return nil
}

// --- VideoReference repository ----------------------------------------------

type pgReferenceRepo struct{ u *pgUOW }

func (r *pgReferenceRepo) Create(ctx context.Context, ref *model.VideoReference) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	uri, err := convert.ParseURI(ref.URI)
	if err != nil {
		return err
	}
	ref.URI = uri
	var taken bool
	if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_references WHERE uri = $1)`, ref.URI).Scan(&taken); err != nil {
		return mapPgError(err)
	}
	if taken {
		return fmt.Errorf("%w: video reference uri %q already in use", errordefs.ErrConstraintViolation, ref.URI)
	}
	ref.UUID = uuid.New()
	ref.Version = 0
	_, err = r.u.tx.Exec(ctx,
		`INSERT INTO video_references (uuid, uri, container, video_codec, audio_codec, width, height,
		        frame_rate, size_bytes, sha512, description, version, video_uuid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ref.UUID, ref.URI, nullable(ref.Container), nullable(ref.VideoCodec), nullable(ref.AudioCodec),
		zeroNullInt(ref.Width), zeroNullInt(ref.Height), zeroNullFloat(ref.FrameRate), zeroNullInt64(ref.SizeBytes),
		nullable(convert.EncodeChecksum(ref.Sha512)), nullable(ref.Description), ref.Version, ref.VideoUUID)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *pgReferenceRepo) find(ctx context.Context, where string, args ...any) ([]*model.VideoReference, error) {
	rows, err := r.u.tx.Query(ctx, `SELECT `+referenceColumns+` FROM video_references `+where, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var out []*model.VideoReference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func (r *pgReferenceRepo) findOne(ctx context.Context, where string, args ...any) (*model.VideoReference, error) {
	out, err := r.find(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *pgReferenceRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uuid = $1`, id)
}

func (r *pgReferenceRepo) FindByURI(ctx context.Context, uri string) (*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.findOne(ctx, `WHERE uri = $1`, uri)
}

func (r *pgReferenceRepo) FindByChecksum(ctx context.Context, sha512 []byte) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE sha512 = $1 ORDER BY uri ASC`, convert.EncodeChecksum(sha512))
}

func (r *pgReferenceRepo) FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE video_uuid = $1 ORDER BY uri ASC`, videoUUID)
}

func (r *pgReferenceRepo) FindByFilename(ctx context.Context, filename string) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.find(ctx, `WHERE uri LIKE '%/' || $1 ORDER BY uri ASC`, filename)
}

func (r *pgReferenceRepo) AllURIs(ctx context.Context) iter.Seq2[string, error] {
	return r.u.queryStrings(ctx, `SELECT uri FROM video_references ORDER BY uri ASC`)
}

func (r *pgReferenceRepo) Update(ctx context.Context, ref *model.VideoReference) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	uri, err := convert.ParseURI(ref.URI)
	if err != nil {
		return err
	}
	ref.URI = uri
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE video_references SET uri = $1, container = $2, video_codec = $3, audio_codec = $4,
		        width = $5, height = $6, frame_rate = $7, size_bytes = $8, sha512 = $9,
		        description = $10, video_uuid = $11, version = version + 1
		 WHERE uuid = $12 AND version = $13`,
		ref.URI, nullable(ref.Container), nullable(ref.VideoCodec), nullable(ref.AudioCodec),
		zeroNullInt(ref.Width), zeroNullInt(ref.Height), zeroNullFloat(ref.FrameRate), zeroNullInt64(ref.SizeBytes),
		nullable(convert.EncodeChecksum(ref.Sha512)), nullable(ref.Description), ref.VideoUUID,
		ref.UUID, ref.Version)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_references WHERE uuid = $1)`, ref.UUID).Scan(&exists); err != nil {
			return mapPgError(err)
		}
		if !exists {
			return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, ref.UUID)
		}
		return fmt.Errorf("%w: video reference %s", errordefs.ErrStaleWrite, ref.UUID)
	}
	ref.Version++
	return nil
}

func (r *pgReferenceRepo) Delete(ctx context.Context, ref *model.VideoReference) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	tag, err := r.u.tx.Exec(ctx, `DELETE FROM video_references WHERE uuid = $1`, ref.UUID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, ref.UUID)
	}
	return nil
}

// Zero-valued optional columns persist as NULL so absence round-trips.

func zeroNullInt(v int) *int32 {
	if v == 0 {
		return nil
	}
	i := int32(v)
	return &i
}

func zeroNullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func zeroNullFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
