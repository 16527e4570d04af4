// Package service holds the synchronization engine that keeps the local
// record store and the remote record service eventually consistent. Local
// mutations are committed synchronously by the caller; the engine pushes
// them remotely in the background and reconciles divergence on pull.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platesync-service/internal/domain/plates"
	"platesync-service/internal/store"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrRemoteDatabase = errors.New("remote database error")
	ErrBlobStorage    = errors.New("blob storage error")
)

// RemoteStore is the remote record service: rows keyed by record id,
// scoped by the owning user.
type RemoteStore interface {
	Upsert(ctx context.Context, record plates.Record, userID string) error
	ListByUser(ctx context.Context, userID string) ([]plates.Record, error)
	ListImageURLs(ctx context.Context, userID string) ([]string, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// ImageStorage is the external blob store for plate images.
type ImageStorage interface {
	Upload(ctx context.Context, data []byte, contentType, userID string) (string, error)
	Delete(ctx context.Context, urlOrPath string) error
	Owns(urlOrPath string) bool
}

// SessionFunc resolves the current authenticated user, if any.
type SessionFunc func(ctx context.Context) (string, bool)

const (
	pushQueueCap = 64
	pushTimeout  = 30 * time.Second
)

type pushJob struct {
	id     string
	userID string
}

// SyncEngine reconciles the local record store with the remote record
// service. Remote and images may be nil, in which case the engine runs
// local-only and every remote operation is a no-op.
type SyncEngine struct {
	store   *store.Store
	remote  RemoteStore
	images  ImageStorage
	session SessionFunc
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]plates.Record
	jobs    chan pushJob
	done    sync.WaitGroup
	closed  bool
}

func NewSyncEngine(st *store.Store, remote RemoteStore, images ImageStorage, session SessionFunc, log zerolog.Logger) *SyncEngine {
	e := &SyncEngine{
		store:   st,
		remote:  remote,
		images:  images,
		session: session,
		log:     log,
		pending: make(map[string]plates.Record),
		jobs:    make(chan pushJob, pushQueueCap),
	}
	e.done.Add(1)
	go e.worker()
	return e
}

// Close drains the push queue and stops the background worker.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.jobs)
	e.done.Wait()
}

// RemoteEnabled reports whether a remote record service is configured.
func (e *SyncEngine) RemoteEnabled() bool {
	return e.remote != nil
}

// EnqueuePush schedules a background push of the record. A second enqueue
// for the same id before the first runs supersedes the queued snapshot, so
// rapid edits result in one push of the final state. Without a session the
// push is skipped silently; the record stays unsynced until the next
// explicit sync trigger.
func (e *SyncEngine) EnqueuePush(ctx context.Context, record plates.Record) {
	if e.remote == nil {
		return
	}
	userID, ok := e.session(ctx)
	if !ok {
		e.log.Debug().Str("id", record.ID).Msg("no session, skipping background push")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	_, queued := e.pending[record.ID]
	e.pending[record.ID] = record
	e.mu.Unlock()

	if queued {
		return
	}

	select {
	case e.jobs <- pushJob{id: record.ID, userID: userID}:
	default:
		// Queue full: drop the job; the record remains unsynced and is
		// retried on the next explicit sync trigger.
		e.mu.Lock()
		delete(e.pending, record.ID)
		e.mu.Unlock()
		e.log.Warn().Str("id", record.ID).Msg("push queue full, deferring to next sync")
	}
}

func (e *SyncEngine) worker() {
	defer e.done.Done()
	for job := range e.jobs {
		e.mu.Lock()
		record, ok := e.pending[job.id]
		delete(e.pending, job.id)
		e.mu.Unlock()
		if !ok {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		if err := e.pushOne(ctx, record, job.userID); err != nil {
			e.log.Error().Err(err).Str("id", record.ID).Msg("background push failed")
		}
		cancel()
	}
}

// PushOne uploads the record's image if it is still a transient local
// handle, then upserts the record remotely and marks the local copy synced.
// Returns ErrNoSession when no user session exists; the local copy is left
// unsynced on any failure.
func (e *SyncEngine) PushOne(ctx context.Context, record plates.Record) error {
	if e.remote == nil {
		return nil
	}
	userID, ok := e.session(ctx)
	if !ok {
		return ErrNoSession
	}
	return e.pushOne(ctx, record, userID)
}

func (e *SyncEngine) pushOne(ctx context.Context, record plates.Record, userID string) error {
	imageURL := record.ImageURL
	storagePath := record.ImageStoragePath

	if store.IsLocalImage(imageURL) && storagePath == "" && e.images != nil {
		data, contentType, err := e.store.LoadImage(imageURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBlobStorage, err)
		}
		durable, err := e.images.Upload(ctx, data, contentType, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBlobStorage, err)
		}
		imageURL = durable
		storagePath = durable
	}

	pushed := record
	pushed.ImageURL = imageURL
	pushed.ImageStoragePath = storagePath

	if err := e.remote.Upsert(ctx, pushed, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDatabase, err)
	}

	e.store.MarkSynced(record.ID, userID, imageURL, storagePath)

	e.log.Info().
		Str("id", record.ID).
		Str("plate", record.PlateNumber).
		Str("user_id", userID).
		Msg("pushed record to remote")
	return nil
}

// PushAllUnsynced pushes every record whose remote copy is stale. Records
// fail independently; one failure does not abort the batch.
func (e *SyncEngine) PushAllUnsynced(ctx context.Context) {
	if e.remote == nil {
		return
	}
	userID, ok := e.session(ctx)
	if !ok {
		e.log.Debug().Msg("no session, skipping sync of unsynced records")
		return
	}

	pushed := 0
	for _, record := range e.store.GetAll() {
		if record.Synced {
			continue
		}
		if err := e.pushOne(ctx, record, userID); err != nil {
			e.log.Error().Err(err).Str("id", record.ID).Msg("failed to push record")
			continue
		}
		pushed++
	}

	now := time.Now().UTC()
	status := e.store.GetSyncStatus()
	status.LastPushAt = &now
	e.store.SetSyncStatus(status)

	if pushed > 0 {
		e.log.Info().Int("pushed", pushed).Msg("pushed unsynced records")
	}
}

// PullAndMerge fetches all remote records for the current user and merges
// them with local state: remote records seed the result, then any local
// record that is still unsynced wins over the remote copy with the same id.
// The merged set, ordered newest first, becomes the new store content. On
// any remote failure the last-known local state is returned unchanged.
func (e *SyncEngine) PullAndMerge(ctx context.Context) []plates.Record {
	if e.remote == nil {
		return e.store.GetAll()
	}
	userID, ok := e.session(ctx)
	if !ok {
		e.log.Debug().Msg("no session, using local records only")
		return e.store.GetAll()
	}

	remote, err := e.remote.ListByUser(ctx, userID)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to pull remote records, keeping local state")
		return e.store.GetAll()
	}

	merged := mergeRecords(e.store.GetAll(), remote)
	e.store.SaveAll(merged)

	now := time.Now().UTC()
	status := e.store.GetSyncStatus()
	status.LastPullAt = &now
	e.store.SetSyncStatus(status)

	e.log.Info().
		Int("remote", len(remote)).
		Int("merged", len(merged)).
		Msg("merged remote records")
	return merged
}

// mergeRecords reconciles the two sets by id. Remote entries are taken as
// the base; a local record that has not been synced always wins over the
// remote copy with the same id.
func mergeRecords(local, remote []plates.Record) []plates.Record {
	byID := make(map[string]plates.Record, len(remote)+len(local))
	for _, r := range remote {
		byID[r.ID] = r
	}
	for _, r := range local {
		if !r.Synced {
			byID[r.ID] = r
		}
	}

	merged := make([]plates.Record, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// DeleteRemote removes the record's remote row and, best-effort, its stored
// image. An image that cannot be deleted, or whose locator does not point
// into the blob store, never blocks the row delete.
func (e *SyncEngine) DeleteRemote(ctx context.Context, record plates.Record) error {
	if e.remote == nil {
		return nil
	}

	if e.images != nil && record.ImageURL != "" && e.images.Owns(record.ImageURL) {
		if err := e.images.Delete(ctx, record.ImageURL); err != nil {
			e.log.Warn().Err(err).Str("id", record.ID).Msg("failed to delete image, continuing with row delete")
		}
	}

	if err := e.remote.DeleteByID(ctx, record.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDatabase, err)
	}

	e.log.Info().Str("id", record.ID).Msg("deleted record from remote")
	return nil
}

// ClearAllRemote deletes every remote row owned by the current user,
// attempting image cleanup for each first. Image failures are logged and
// skipped; only the bulk row delete can fail the operation.
func (e *SyncEngine) ClearAllRemote(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}
	userID, ok := e.session(ctx)
	if !ok {
		e.log.Debug().Msg("no session, skipping remote clear")
		return nil
	}

	urls, err := e.remote.ListImageURLs(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDatabase, err)
	}

	if e.images != nil {
		for _, u := range urls {
			if !e.images.Owns(u) {
				continue
			}
			if err := e.images.Delete(ctx, u); err != nil {
				e.log.Warn().Err(err).Str("url", u).Msg("failed to delete image during clear")
			}
		}
	}

	if err := e.remote.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDatabase, err)
	}

	e.log.Info().Str("user_id", userID).Msg("cleared all remote records")
	return nil
}
