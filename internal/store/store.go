// Package store is the on-device record store: one JSON-encoded array of
// plate records under a fixed file, plus a sibling file for sync-status
// bookkeeping. Persistence is advisory; read and write failures are logged
// and never surfaced to the caller.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platesync-service/internal/domain/plates"
)

const (
	platesFile     = "plates.json"
	syncStatusFile = "sync_status.json"
)

// ErrBadFormat is returned by Import when the payload is not a JSON array
// of records.
var ErrBadFormat = errors.New("invalid data format")

type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// SyncStatus is auxiliary bookkeeping kept beside the record array. It is
// cleared together with the records on a full reset.
type SyncStatus struct {
	LastPullAt *time.Time `json:"lastPullAt,omitempty"`
	LastPushAt *time.Time `json:"lastPushAt,omitempty"`
}

func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) platesPath() string {
	return filepath.Join(s.dir, platesFile)
}

func (s *Store) syncStatusPath() string {
	return filepath.Join(s.dir, syncStatusFile)
}

// GetAll returns every stored record, most recent first. It never fails:
// a missing or unreadable file yields an empty slice.
func (s *Store) GetAll() []plates.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *Store) readAll() []plates.Record {
	data, err := os.ReadFile(s.platesPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error().Err(err).Msg("failed to read plate store")
		}
		return []plates.Record{}
	}

	var records []plates.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Error().Err(err).Msg("failed to decode plate store")
		return []plates.Record{}
	}
	return records
}

// SaveAll atomically replaces the stored record array. Failures are logged,
// not propagated.
func (s *Store) SaveAll(records []plates.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeAll(records)
}

func (s *Store) writeAll(records []plates.Record) {
	data, err := json.Marshal(records)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode plate store")
		return
	}

	tmp := s.platesPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Error().Err(err).Msg("failed to write plate store")
		return
	}
	if err := os.Rename(tmp, s.platesPath()); err != nil {
		s.log.Error().Err(err).Msg("failed to replace plate store")
	}
}

// Add prepends a record and marks it unsynced.
func (s *Store) Add(record plates.Record) []plates.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Synced = false
	records := append([]plates.Record{record}, s.readAll()...)
	s.writeAll(records)
	return records
}

// Update merges the partial update into the record with the given id and
// marks it unsynced. No-op if the id is absent.
func (s *Store) Update(id string, update plates.RecordUpdate) []plates.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAll()
	changed := false
	for i, r := range records {
		if r.ID != id {
			continue
		}
		r = update.Apply(r)
		r.Synced = false
		records[i] = r
		changed = true
	}
	if changed {
		s.writeAll(records)
	}
	return records
}

// MarkSynced records a successful remote upsert: the record is flagged as
// synced, its owner is set and the durable image locator is persisted. The
// sync flag is the only place this transition is allowed to happen.
func (s *Store) MarkSynced(id, userID, imageURL, storagePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAll()
	changed := false
	for i, r := range records {
		if r.ID != id {
			continue
		}
		r.Synced = true
		r.UserID = userID
		if imageURL != "" {
			r.ImageURL = imageURL
		}
		if storagePath != "" {
			r.ImageStoragePath = storagePath
		}
		records[i] = r
		changed = true
	}
	if changed {
		s.writeAll(records)
	}
}

// Get returns the record with the given id, if present.
func (s *Store) Get(id string) (plates.Record, bool) {
	for _, r := range s.GetAll() {
		if r.ID == id {
			return r, true
		}
	}
	return plates.Record{}, false
}

// Delete removes the record with the given id. No-op if absent.
func (s *Store) Delete(id string) []plates.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAll()
	filtered := records[:0]
	for _, r := range records {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) != len(records) {
		s.writeAll(filtered)
	}
	return filtered
}

// ClearAll removes all persisted state, including sync-status bookkeeping.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.platesPath(), s.syncStatusPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Error().Err(err).Str("path", path).Msg("failed to clear store file")
		}
	}
}

// Export serializes the current state as pretty-printed JSON.
func (s *Store) Export() ([]byte, error) {
	records := s.GetAll()
	return json.MarshalIndent(records, "", "  ")
}

// Import replaces the store contents with the given JSON array, marking
// every imported record unsynced. Fails with ErrBadFormat unless the
// payload is a top-level JSON array of records.
func (s *Store) Import(data []byte) ([]plates.Record, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if _, ok := raw.([]any); !ok {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrBadFormat)
	}

	var records []plates.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	for i := range records {
		records[i].Synced = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeAll(records)
	return records, nil
}

// GetSyncStatus reads the sync bookkeeping, returning a zero value when
// none has been recorded.
func (s *Store) GetSyncStatus() SyncStatus {
	data, err := os.ReadFile(s.syncStatusPath())
	if err != nil {
		return SyncStatus{}
	}
	var status SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.log.Error().Err(err).Msg("failed to decode sync status")
		return SyncStatus{}
	}
	return status
}

// SetSyncStatus persists the sync bookkeeping. Best-effort, like SaveAll.
func (s *Store) SetSyncStatus(status SyncStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode sync status")
		return
	}
	if err := os.WriteFile(s.syncStatusPath(), data, 0o644); err != nil {
		s.log.Error().Err(err).Msg("failed to write sync status")
	}
}
