// internal/storage/memory.go
// In-memory implementation of the Store interface. It is intended for
// development and testing and mirrors the transactional semantics of the
// PostgreSQL backend: a unit of work stages its writes and applies them
// atomically at commit under the store lock, re-checking uniqueness and
// version counters so concurrent committers are serialized correctly.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seaview-org/seaview-vam-go/internal/convert"
	errordefs "github.com/seaview-org/seaview-vam-go/internal/errors"
	"github.com/seaview-org/seaview-vam-go/internal/model"
	"github.com/google/uuid"
)

// Memory implements Store using mutex-guarded maps.
type Memory struct {
	mu         sync.RWMutex
	sequences  map[uuid.UUID]*model.VideoSequence
	videos     map[uuid.UUID]*model.Video
	references map[uuid.UUID]*model.VideoReference
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sequences:  make(map[uuid.UUID]*model.VideoSequence),
		videos:     make(map[uuid.UUID]*model.Video),
		references: make(map[uuid.UUID]*model.VideoReference),
	}
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (m *Memory) Close() {}

// Begin starts a new unit of work. The unit stages all writes locally and
// applies them at Commit; it holds no lock while Active, which is what makes
// the optimistic concurrency protocol meaningful for this backend.
func (m *Memory) Begin(ctx context.Context) (UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := &memoryUOW{
		store:      m,
		sequences:  newOverlay[model.VideoSequence](),
		videos:     newOverlay[model.Video](),
		references: newOverlay[model.VideoReference](),
	}
	u.seqRepo = &memSequenceRepo{u}
	u.vidRepo = &memVideoRepo{u}
	u.refRepo = &memReferenceRepo{u}
	return u, nil
}

// WithTransaction runs fn inside a unit of work, committing on success and
// rolling back on error or panic.
func (m *Memory) WithTransaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback(ctx)
	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

type uowState int

const (
	uowActive uowState = iota
	uowCommitted
	uowRolledBack
)

// ErrTxDone is returned when a unit of work is used after commit or rollback.
var ErrTxDone = fmt.Errorf("%w: unit of work already finished", errordefs.ErrStorageUnavailable)

// overlay tracks the pending writes of one table within a unit of work.
// Reads merge the overlay over the committed state so a unit sees its own
// uncommitted writes.
type overlay[T any] struct {
	created  map[uuid.UUID]*T
	updated  map[uuid.UUID]*T
	expected map[uuid.UUID]int64 // version captured at the read that preceded each update
	deleted  map[uuid.UUID]bool
}

func newOverlay[T any]() *overlay[T] {
	return &overlay[T]{
		created:  make(map[uuid.UUID]*T),
		updated:  make(map[uuid.UUID]*T),
		expected: make(map[uuid.UUID]int64),
		deleted:  make(map[uuid.UUID]bool),
	}
}

type memoryUOW struct {
	store *Memory
	state uowState

	sequences  *overlay[model.VideoSequence]
	videos     *overlay[model.Video]
	references *overlay[model.VideoReference]

	seqRepo *memSequenceRepo
	vidRepo *memVideoRepo
	refRepo *memReferenceRepo
}

func (u *memoryUOW) VideoSequences() VideoSequenceRepository  { return u.seqRepo }
func (u *memoryUOW) Videos() VideoRepository                  { return u.vidRepo }
func (u *memoryUOW) VideoReferences() VideoReferenceRepository { return u.refRepo }

func (u *memoryUOW) active(ctx context.Context) error {
	if u.state != uowActive {
		return ErrTxDone
	}
	return ctx.Err()
}

// Rollback discards all staged writes. Rolling back a terminal unit is a
// no-op so the method is safe to defer.
func (u *memoryUOW) Rollback(ctx context.Context) error {
	if u.state != uowActive {
		return nil
	}
	u.state = uowRolledBack
	return nil
}

// Commit applies all staged writes atomically under the store lock. Every
// check runs before any mutation, so a constraint or version conflict leaves
// the committed state untouched; the unit then rolls back automatically and
// the originating error is surfaced.
func (u *memoryUOW) Commit(ctx context.Context) error {
	if u.state != uowActive {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		u.state = uowRolledBack
		return err
	}

	m := u.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := u.verify(); err != nil {
		u.state = uowRolledBack
		return err
	}

	// Deletes first (cascades were expanded at staging time), then creates
	// parents-before-children, then updates.
	for id := range u.references.deleted {
		delete(m.references, id)
	}
	for id := range u.videos.deleted {
		delete(m.videos, id)
	}
	for id := range u.sequences.deleted {
		delete(m.sequences, id)
	}
	for id, s := range u.sequences.created {
		m.sequences[id] = copySequence(s)
	}
	for id, v := range u.videos.created {
		m.videos[id] = copyVideo(v)
	}
	for id, r := range u.references.created {
		m.references[id] = copyReference(r)
	}
	for id, s := range u.sequences.updated {
		m.sequences[id] = copySequence(s)
	}
	for id, v := range u.videos.updated {
		m.videos[id] = copyVideo(v)
	}
	for id, r := range u.references.updated {
		m.references[id] = copyReference(r)
	}

	u.state = uowCommitted
	return nil
}

// verify re-checks uniqueness, parent existence, and version counters against
// the committed state. Caller holds the store write lock.
func (u *memoryUOW) verify() error {
	m := u.store

	// Stale-write and concurrent-delete detection for updates.
	for id, want := range u.sequences.expected {
		cur, ok := m.sequences[id]
		if !ok {
			return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, id)
		}
		if cur.Version != want {
			return fmt.Errorf("%w: video sequence %s version %d, expected %d", errordefs.ErrStaleWrite, id, cur.Version, want)
		}
	}
	for id, want := range u.videos.expected {
		cur, ok := m.videos[id]
		if !ok {
			return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, id)
		}
		if cur.Version != want {
			return fmt.Errorf("%w: video %s version %d, expected %d", errordefs.ErrStaleWrite, id, cur.Version, want)
		}
	}
	for id, want := range u.references.expected {
		cur, ok := m.references[id]
		if !ok {
			return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, id)
		}
		if cur.Version != want {
			return fmt.Errorf("%w: video reference %s version %d, expected %d", errordefs.ErrStaleWrite, id, cur.Version, want)
		}
	}

	// Uniqueness against what the committed state will look like.
	seqNames := make(map[string]uuid.UUID)
	for id, s := range m.sequences {
		if u.sequences.deleted[id] {
			continue
		}
		if up, ok := u.sequences.updated[id]; ok {
			s = up
		}
		seqNames[s.Name] = id
	}
	for id, s := range u.sequences.created {
		if other, taken := seqNames[s.Name]; taken && other != id {
			return fmt.Errorf("%w: video sequence name %q already in use", errordefs.ErrConstraintViolation, s.Name)
		}
		seqNames[s.Name] = id
	}
	vidNames := make(map[string]uuid.UUID)
	for id, v := range m.videos {
		if u.videos.deleted[id] {
			continue
		}
		if up, ok := u.videos.updated[id]; ok {
			v = up
		}
		vidNames[v.Name] = id
	}
	for id, v := range u.videos.created {
		if other, taken := vidNames[v.Name]; taken && other != id {
			return fmt.Errorf("%w: video name %q already in use", errordefs.ErrConstraintViolation, v.Name)
		}
		vidNames[v.Name] = id
	}
	refURIs := make(map[string]uuid.UUID)
	for id, r := range m.references {
		if u.references.deleted[id] {
			continue
		}
		if up, ok := u.references.updated[id]; ok {
			r = up
		}
		refURIs[r.URI] = id
	}
	for id, r := range u.references.created {
		if other, taken := refURIs[r.URI]; taken && other != id {
			return fmt.Errorf("%w: video reference uri %q already in use", errordefs.ErrConstraintViolation, r.URI)
		}
		refURIs[r.URI] = id
	}

	// Parent rows must survive to commit (a concurrent delete may have
	// removed them after staging).
	for id, v := range u.videos.created {
		if _, ok := u.sequences.created[v.VideoSequenceUUID]; ok {
			continue
		}
		if _, ok := m.sequences[v.VideoSequenceUUID]; !ok || u.sequences.deleted[v.VideoSequenceUUID] {
			return fmt.Errorf("%w: video sequence %s for video %s", errordefs.ErrNotFound, v.VideoSequenceUUID, id)
		}
	}
	for id, r := range u.references.created {
		if _, ok := u.videos.created[r.VideoUUID]; ok {
			continue
		}
		if _, ok := m.videos[r.VideoUUID]; !ok || u.videos.deleted[r.VideoUUID] {
			return fmt.Errorf("%w: video %s for video reference %s", errordefs.ErrNotFound, r.VideoUUID, id)
		}
	}

	return nil
}

// --- visibility helpers -----------------------------------------------------
// Reads merge the unit's overlay over the committed state under a read lock.

func (u *memoryUOW) visibleSequence(id uuid.UUID) *model.VideoSequence {
	if u.sequences.deleted[id] {
		return nil
	}
	if s, ok := u.sequences.updated[id]; ok {
		return copySequence(s)
	}
	if s, ok := u.sequences.created[id]; ok {
		return copySequence(s)
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if s, ok := u.store.sequences[id]; ok {
		return copySequence(s)
	}
	return nil
}

func (u *memoryUOW) visibleVideo(id uuid.UUID) *model.Video {
	if u.videos.deleted[id] {
		return nil
	}
	if v, ok := u.videos.updated[id]; ok {
		return copyVideo(v)
	}
	if v, ok := u.videos.created[id]; ok {
		return copyVideo(v)
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if v, ok := u.store.videos[id]; ok {
		return copyVideo(v)
	}
	return nil
}

func (u *memoryUOW) visibleReference(id uuid.UUID) *model.VideoReference {
	if u.references.deleted[id] {
		return nil
	}
	if r, ok := u.references.updated[id]; ok {
		return copyReference(r)
	}
	if r, ok := u.references.created[id]; ok {
		return copyReference(r)
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if r, ok := u.store.references[id]; ok {
		return copyReference(r)
	}
	return nil
}

func (u *memoryUOW) allSequences() []*model.VideoSequence {
	u.store.mu.RLock()
	out := make([]*model.VideoSequence, 0, len(u.store.sequences))
	for id, s := range u.store.sequences {
		if u.sequences.deleted[id] {
			continue
		}
		if up, ok := u.sequences.updated[id]; ok {
			s = up
		}
		out = append(out, copySequence(s))
	}
	u.store.mu.RUnlock()
	for _, s := range u.sequences.created {
		out = append(out, copySequence(s))
	}
	return out
}

func (u *memoryUOW) allVideos() []*model.Video {
	u.store.mu.RLock()
	out := make([]*model.Video, 0, len(u.store.videos))
	for id, v := range u.store.videos {
		if u.videos.deleted[id] {
			continue
		}
		if up, ok := u.videos.updated[id]; ok {
			v = up
		}
		out = append(out, copyVideo(v))
	}
	u.store.mu.RUnlock()
	for _, v := range u.videos.created {
		out = append(out, copyVideo(v))
	}
	return out
}

func (u *memoryUOW) allReferences() []*model.VideoReference {
	u.store.mu.RLock()
	out := make([]*model.VideoReference, 0, len(u.store.references))
	for id, r := range u.store.references {
		if u.references.deleted[id] {
			continue
		}
		if up, ok := u.references.updated[id]; ok {
			r = up
		}
		out = append(out, copyReference(r))
	}
	u.store.mu.RUnlock()
	for _, r := range u.references.created {
		out = append(out, copyReference(r))
	}
	return out
}

// assembleSequence populates a sequence's videos (ordered by start ascending)
// and each video's references.
func (u *memoryUOW) assembleSequence(s *model.VideoSequence) *model.VideoSequence {
	for _, v := range u.allVideos() {
		if v.VideoSequenceUUID == s.UUID {
			s.Videos = append(s.Videos, u.assembleVideo(v))
		}
	}
	sort.SliceStable(s.Videos, func(i, j int) bool { return s.Videos[i].Start.Before(s.Videos[j].Start) })
	return s
}

func (u *memoryUOW) assembleVideo(v *model.Video) *model.Video {
	for _, r := range u.allReferences() {
		if r.VideoUUID == v.UUID {
			v.References = append(v.References, r)
		}
	}
	return v
}

// --- VideoSequence repository ----------------------------------------------

type memSequenceRepo struct{ u *memoryUOW }

func (r *memSequenceRepo) Create(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	for _, existing := range r.u.allSequences() {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: video sequence name %q already in use", errordefs.ErrConstraintViolation, s.Name)
		}
	}
	s.UUID = uuid.New()
	s.Version = 0
	r.u.sequences.created[s.UUID] = copySequence(s)
	return nil
}

func (r *memSequenceRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	s := r.u.visibleSequence(id)
	if s == nil {
		return nil, nil
	}
	return r.u.assembleSequence(s), nil
}

func (r *memSequenceRepo) FindByName(ctx context.Context, name string) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	for _, s := range r.u.allSequences() {
		if s.Name == name {
			return r.u.assembleSequence(s), nil
		}
	}
	return nil, nil
}

func (r *memSequenceRepo) FindAll(ctx context.Context) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	out := r.u.allSequences()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for _, s := range out {
		r.u.assembleSequence(s)
	}
	return out, nil
}

func (r *memSequenceRepo) FindByCameraID(ctx context.Context, cameraID string) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.VideoSequence
	for _, s := range r.u.allSequences() {
		if s.CameraID == cameraID {
			out = append(out, r.u.assembleSequence(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// matchBetween reports whether a sequence owns a video starting within the
// inclusive [start, end] window.
func matchBetween(s *model.VideoSequence, start, end time.Time) bool {
	for _, v := range s.Videos {
		if !v.Start.Before(start) && !v.Start.After(end) {
			return true
		}
	}
	return false
}

func (r *memSequenceRepo) FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.VideoSequence
	for _, s := range r.u.allSequences() {
		r.u.assembleSequence(s)
		if matchBetween(s, start, end) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memSequenceRepo) FindByCameraIDBetweenDates(ctx context.Context, cameraID string, start, end time.Time) ([]*model.VideoSequence, error) {
	all, err := r.FindBetweenDates(ctx, start, end)
	if err != nil {
		return nil, err
	}
	var out []*model.VideoSequence
	for _, s := range all {
		if s.CameraID == cameraID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSequenceRepo) FindByNameBetweenDates(ctx context.Context, name string, start, end time.Time) ([]*model.VideoSequence, error) {
	all, err := r.FindBetweenDates(ctx, start, end)
	if err != nil {
		return nil, err
	}
	var out []*model.VideoSequence
	for _, s := range all {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSequenceRepo) FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) (*model.VideoSequence, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	v := r.u.visibleVideo(videoUUID)
	if v == nil {
		return nil, nil
	}
	s := r.u.visibleSequence(v.VideoSequenceUUID)
	if s == nil {
		return nil, nil
	}
	return r.u.assembleSequence(s), nil
}

func (r *memSequenceRepo) AllNames(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield("", err)
			return
		}
		names := make([]string, 0)
		for _, s := range r.u.allSequences() {
			names = append(names, s.Name)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (r *memSequenceRepo) NamesByCameraID(ctx context.Context, cameraID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield("", err)
			return
		}
		names := make([]string, 0)
		for _, s := range r.u.allSequences() {
			if s.CameraID == cameraID {
				names = append(names, s.Name)
			}
		}
		sort.Strings(names)
		for _, n := range names {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (r *memSequenceRepo) AllCameraIDs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield("", err)
			return
		}
		seen := make(map[string]bool)
		for _, s := range r.u.allSequences() {
			seen[s.CameraID] = true
		}
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (r *memSequenceRepo) FindMediaByNames(ctx context.Context, names []string) ([]model.Media, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []model.Media
	for _, s := range r.u.allSequences() {
		if !wanted[s.Name] {
			continue
		}
		r.u.assembleSequence(s)
		for _, v := range s.Videos {
			for _, ref := range v.References {
				out = append(out, model.Media{
					VideoSequenceUUID:        s.UUID,
					VideoUUID:                v.UUID,
					VideoReferenceUUID:       ref.UUID,
					VideoSequenceName:        s.Name,
					CameraID:                 s.CameraID,
					VideoName:                v.Name,
					URI:                      ref.URI,
					StartTimestamp:           v.Start,
					Duration:                 v.Duration,
					Container:                ref.Container,
					VideoCodec:               ref.VideoCodec,
					AudioCodec:               ref.AudioCodec,
					Width:                    ref.Width,
					Height:                   ref.Height,
					FrameRate:                ref.FrameRate,
					SizeBytes:                ref.SizeBytes,
					Description:              ref.Description,
					VideoSequenceDescription: s.Description,
					VideoDescription:         v.Description,
					Sha512:                   ref.Sha512,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTimestamp.Before(out[j].StartTimestamp) })
	return out, nil
}

func (r *memSequenceRepo) Update(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	cur := r.u.visibleSequence(s.UUID)
	if cur == nil {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, s.UUID)
	}
	for _, other := range r.u.allSequences() {
		if other.Name == s.Name && other.UUID != s.UUID {
			return fmt.Errorf("%w: video sequence name %q already in use", errordefs.ErrConstraintViolation, s.Name)
		}
	}
	if _, fresh := r.u.sequences.created[s.UUID]; fresh {
		// Created in this unit: the row exists nowhere else yet, so fold the
		// edit into the staged create. No version expectation to record.
		s.Version++
		r.u.sequences.created[s.UUID] = copySequence(s)
		return nil
	}
	if _, staged := r.u.sequences.expected[s.UUID]; !staged {
		// First update in this unit: remember the version the caller read so
		// commit can detect a concurrent writer.
		r.u.sequences.expected[s.UUID] = s.Version
	}
	s.Version++
	r.u.sequences.updated[s.UUID] = copySequence(s)
	return nil
}

func (r *memSequenceRepo) Delete(ctx context.Context, s *model.VideoSequence) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if r.u.visibleSequence(s.UUID) == nil {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, s.UUID)
	}
	// Cascade: owned videos and their references go in the same transaction.
	for _, v := range r.u.allVideos() {
		if v.VideoSequenceUUID != s.UUID {
			continue
		}
		for _, ref := range r.u.allReferences() {
			if ref.VideoUUID == v.UUID {
				r.u.references.deleted[ref.UUID] = true
				delete(r.u.references.created, ref.UUID)
				delete(r.u.references.updated, ref.UUID)
			}
		}
		r.u.videos.deleted[v.UUID] = true
		delete(r.u.videos.created, v.UUID)
		delete(r.u.videos.updated, v.UUID)
	}
	r.u.sequences.deleted[s.UUID] = true
	delete(r.u.sequences.created, s.UUID)
	delete(r.u.sequences.updated, s.UUID)
	return nil
}

// --- Video repository -------------------------------------------------------

type memVideoRepo struct{ u *memoryUOW }

func (r *memVideoRepo) Create(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	if r.u.visibleSequence(v.VideoSequenceUUID) == nil {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, v.VideoSequenceUUID)
	}
	for _, existing := range r.u.allVideos() {
		if existing.Name == v.Name {
			return fmt.Errorf("%w: video name %q already in use", errordefs.ErrConstraintViolation, v.Name)
		}
	}
	v.UUID = uuid.New()
	v.Version = 0
	v.Start = convert.FloorMillis(v.Start)
	r.u.videos.created[v.UUID] = copyVideo(v)
	return nil
}

func (r *memVideoRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	v := r.u.visibleVideo(id)
	if v == nil {
		return nil, nil
	}
	return r.u.assembleVideo(v), nil
}

func (r *memVideoRepo) FindByName(ctx context.Context, name string) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	for _, v := range r.u.allVideos() {
		if v.Name == name {
			return r.u.assembleVideo(v), nil
		}
	}
	return nil, nil
}

func (r *memVideoRepo) FindByVideoSequenceUUID(ctx context.Context, sequenceUUID uuid.UUID) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.Video
	for _, v := range r.u.allVideos() {
		if v.VideoSequenceUUID == sequenceUUID {
			out = append(out, r.u.assembleVideo(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *memVideoRepo) FindByVideoReferenceUUID(ctx context.Context, referenceUUID uuid.UUID) (*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	ref := r.u.visibleReference(referenceUUID)
	if ref == nil {
		return nil, nil
	}
	v := r.u.visibleVideo(ref.VideoUUID)
	if v == nil {
		return nil, nil
	}
	return r.u.assembleVideo(v), nil
}

func (r *memVideoRepo) FindBetweenDates(ctx context.Context, start, end time.Time) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.Video
	for _, v := range r.u.allVideos() {
		if !v.Start.Before(start) && !v.Start.After(end) {
			out = append(out, r.u.assembleVideo(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *memVideoRepo) FindByNameLike(ctx context.Context, substring string) ([]*model.Video, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.Video
	for _, v := range r.u.allVideos() {
		if strings.Contains(v.Name, substring) {
			out = append(out, r.u.assembleVideo(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memVideoRepo) AllNames(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield("", err)
			return
		}
		names := make([]string, 0)
		for _, v := range r.u.allVideos() {
			names = append(names, v.Name)
		}
		sort.Strings(names)
		for _, n := range names {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (r *memVideoRepo) AllNamesAndStartDates(ctx context.Context) iter.Seq2[NameAndStart, error] {
	return func(yield func(NameAndStart, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield(NameAndStart{}, err)
			return
		}
		rows := make([]NameAndStart, 0)
		for _, v := range r.u.allVideos() {
			rows = append(rows, NameAndStart{Name: v.Name, Start: v.Start})
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Start.Before(rows[j].Start) })
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (r *memVideoRepo) Update(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	cur := r.u.visibleVideo(v.UUID)
	if cur == nil {
		return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, v.UUID)
	}
	if r.u.visibleSequence(v.VideoSequenceUUID) == nil {
		return fmt.Errorf("%w: video sequence %s", errordefs.ErrNotFound, v.VideoSequenceUUID)
	}
	for _, other := range r.u.allVideos() {
		if other.Name == v.Name && other.UUID != v.UUID {
			return fmt.Errorf("%w: video name %q already in use", errordefs.ErrConstraintViolation, v.Name)
		}
	}
	if _, fresh := r.u.videos.created[v.UUID]; fresh {
		v.Version++
		v.Start = convert.FloorMillis(v.Start)
		r.u.videos.created[v.UUID] = copyVideo(v)
		return nil
	}
	if _, staged := r.u.videos.expected[v.UUID]; !staged {
		r.u.videos.expected[v.UUID] = v.Version
	}
	v.Version++
	v.Start = convert.FloorMillis(v.Start)
	r.u.videos.updated[v.UUID] = copyVideo(v)
	return nil
}

func (r *memVideoRepo) Delete(ctx context.Context, v *model.Video) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if r.u.visibleVideo(v.UUID) == nil {
		return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, v.UUID)
	}
	for _, ref := range r.u.allReferences() {
		if ref.VideoUUID == v.UUID {
			r.u.references.deleted[ref.UUID] = true
			delete(r.u.references.created, ref.UUID)
			delete(r.u.references.updated, ref.UUID)
		}
	}
	r.u.videos.deleted[v.UUID] = true
	delete(r.u.videos.created, v.UUID)
	delete(r.u.videos.updated, v.UUID)
	return nil
}

// --- VideoReference repository ----------------------------------------------

type memReferenceRepo struct{ u *memoryUOW }

func (r *memReferenceRepo) Create(ctx context.Context, ref *model.VideoReference) error {
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
	if r.u.visibleVideo(ref.VideoUUID) == nil {
		return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, ref.VideoUUID)
	}
	for _, existing := range r.u.allReferences() {
		if existing.URI == ref.URI {
			return fmt.Errorf("%w: video reference uri %q already in use", errordefs.ErrConstraintViolation, ref.URI)
		}
	}
	ref.UUID = uuid.New()
	ref.Version = 0
	r.u.references.created[ref.UUID] = copyReference(ref)
	return nil
}

func (r *memReferenceRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	return r.u.visibleReference(id), nil
}

func (r *memReferenceRepo) FindByURI(ctx context.Context, uri string) (*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	for _, ref := range r.u.allReferences() {
		if ref.URI == uri {
			return ref, nil
		}
	}
	return nil, nil
}

func (r *memReferenceRepo) FindByChecksum(ctx context.Context, sha512 []byte) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.VideoReference
	for _, ref := range r.u.allReferences() {
		if len(ref.Sha512) > 0 && bytes.Equal(ref.Sha512, sha512) {
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (r *memReferenceRepo) FindByVideoUUID(ctx context.Context, videoUUID uuid.UUID) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.VideoReference
	for _, ref := range r.u.allReferences() {
		if ref.VideoUUID == videoUUID {
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (r *memReferenceRepo) FindByFilename(ctx context.Context, filename string) ([]*model.VideoReference, error) {
	if err := r.u.active(ctx); err != nil {
		return nil, err
	}
	var out []*model.VideoReference
	for _, ref := range r.u.allReferences() {
		if strings.HasSuffix(ref.URI, "/"+filename) || ref.URI == filename {
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (r *memReferenceRepo) AllURIs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.u.active(ctx); err != nil {
			yield("", err)
			return
		}
		uris := make([]string, 0)
		for _, ref := range r.u.allReferences() {
			uris = append(uris, ref.URI)
		}
		sort.Strings(uris)
		for _, u := range uris {
			if !yield(u, nil) {
				return
			}
		}
	}
}

func (r *memReferenceRepo) Update(ctx context.Context, ref *model.VideoReference) error {
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
	cur := r.u.visibleReference(ref.UUID)
	if cur == nil {
		return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, ref.UUID)
	}
	if r.u.visibleVideo(ref.VideoUUID) == nil {
		return fmt.Errorf("%w: video %s", errordefs.ErrNotFound, ref.VideoUUID)
	}
	for _, other := range r.u.allReferences() {
		if other.URI == ref.URI && other.UUID != ref.UUID {
			return fmt.Errorf("%w: video reference uri %q already in use", errordefs.ErrConstraintViolation, ref.URI)
		}
	}
	if _, fresh := r.u.references.created[ref.UUID]; fresh {
		ref.Version++
		r.u.references.created[ref.UUID] = copyReference(ref)
		return nil
	}
	if _, staged := r.u.references.expected[ref.UUID]; !staged {
		r.u.references.expected[ref.UUID] = ref.Version
	}
	ref.Version++
	r.u.references.updated[ref.UUID] = copyReference(ref)
	return nil
}

func (r *memReferenceRepo) Delete(ctx context.Context, ref *model.VideoReference) error {
	if err := r.u.active(ctx); err != nil {
		return err
	}
	if r.u.visibleReference(ref.UUID) == nil {
		return fmt.Errorf("%w: video reference %s", errordefs.ErrNotFound, ref.UUID)
	}
	r.u.references.deleted[ref.UUID] = true
	delete(r.u.references.created, ref.UUID)
	delete(r.u.references.updated, ref.UUID)
	return nil
}

// --- copy helpers -----------------------------------------------------------
// Entities are copied on every boundary crossing so callers can never mutate
// committed state directly.

func copySequence(s *model.VideoSequence) *model.VideoSequence {
	c := *s
	c.Videos = nil
	return &c
}

func copyVideo(v *model.Video) *model.Video {
	c := *v
	c.References = nil
	if v.Duration != nil {
		d := *v.Duration
		c.Duration = &d
	}
	return &c
}

func copyReference(r *model.VideoReference) *model.VideoReference {
	c := *r
	if r.Sha512 != nil {
		c.Sha512 = append([]byte(nil), r.Sha512...)
	}
	return &c
}
