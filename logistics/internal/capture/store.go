// Package capture keeps delivery confirmations captured on a driver device
// until they have been uploaded, surviving restarts and lost connectivity.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

const recordExt = ".json"

// ErrRecordNotFound is returned for unknown local IDs.
var ErrRecordNotFound = errors.New("capture record not found")

// Attachment is a binary part of a confirmation such as a photo.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Payload is what the driver captured at the delivery point.
type Payload struct {
	ReceivedBy  string           `json:"received_by"`
	DeliveredAt time.Time        `json:"delivered_at"`
	Location    *events.GeoPoint `json:"location,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Photos      []Attachment     `json:"photos,omitempty"`
	Signature   *Attachment      `json:"signature,omitempty"`
}

// Record is one queued confirmation.
type Record struct {
	LocalID        string    `json:"local_id"`
	TargetEntityID string    `json:"target_entity_id"`
	Payload        Payload   `json:"payload"`
	CapturedAt     time.Time `json:"captured_at"`
	Synced         bool      `json:"synced"`
}

// Failure is the last upload error seen for a record.
type Failure struct {
	LocalID  string    `json:"local_id"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Store persists one JSON file per record in a device directory. Every
// write is flushed to disk before the call returns.
type Store struct {
	dir    string
	logger *logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	records  map[string]Record
	failures map[string]Failure
}

// Open loads the records in dir, creating it if needed. Records already
// marked synced are from an interrupted pass and are deleted.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create capture dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		logger:   logger,
		now:      time.Now,
		records:  make(map[string]Record),
		failures: make(map[string]Failure),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			continue
		case strings.HasSuffix(name, ".tmp"):
			// Left behind by a crash before rename; the record was never acknowledged.
			_ = os.Remove(path)
			continue
		case !strings.HasSuffix(name, recordExt):
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn("skipping unreadable capture record", "file", name, logging.Error(err))
			continue
		}
		if rec.Synced {
			if err := s.remove(rec.LocalID); err != nil {
				return nil, err
			}
			logger.Info("removed record synced before restart", logging.LocalID(rec.LocalID))
			continue
		}
		s.records[rec.LocalID] = rec
	}
	return s, nil
}

// Dir returns the device directory.
func (s *Store) Dir() string { return s.dir }

// Queue durably stores a new record and returns its local ID.
func (s *Store) Queue(ctx context.Context, taskID string, p Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if taskID == "" {
		return "", fmt.Errorf("task id is required")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate local id: %w", err)
	}
	now := s.now().UTC()
	if p.DeliveredAt.IsZero() {
		p.DeliveredAt = now
	}
	rec := Record{LocalID: id.String(), TargetEntityID: taskID, Payload: p, CapturedAt: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(rec); err != nil {
		return "", err
	}
	s.records[rec.LocalID] = rec
	return rec.LocalID, nil
}

// Get returns one record.
func (s *Store) Get(localID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[localID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Unsynced returns records not yet uploaded, oldest capture first.
func (s *Store) Unsynced() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if !r.Synced {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].LocalID < out[j].LocalID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// MarkSynced durably flags the record as uploaded.
func (s *Store) MarkSynced(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[localID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Synced = true
	if err := s.write(rec); err != nil {
		return err
	}
	s.records[localID] = rec
	delete(s.failures, localID)
	return nil
}

// Delete removes the record and its file.
func (s *Store) Delete(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[localID]; !ok {
		return ErrRecordNotFound
	}
	if err := s.remove(localID); err != nil {
		return err
	}
	delete(s.records, localID)
	delete(s.failures, localID)
	return nil
}

// Purge discards a record without uploading it.
func (s *Store) Purge(localID string) error {
	if err := s.Delete(localID); err != nil {
		return err
	}
	s.logger.Warn("capture record purged", logging.LocalID(localID))
	return nil
}

// RecordFailure remembers the last upload error for a record.
func (s *Store) RecordFailure(localID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[localID]
	f.LocalID = localID
	f.Attempts++
	f.Error = err.Error()
	f.At = s.now().UTC()
	s.failures[localID] = f
}

// Failures returns the last error of every record that failed to upload.
func (s *Store) Failures() []Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Failure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

func (s *Store) path(localID string) string {
	return filepath.Join(s.dir, localID+recordExt)
}

// write replaces the record file atomically: temp file, fsync, rename,
// directory fsync.
func (s *Store) write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal capture record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, rec.LocalID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync capture record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close capture record: %w", err)
	}
	if err := os.Rename(tmpName, s.path(rec.LocalID)); err != nil {
		cleanup()
		return fmt.Errorf("failed to commit capture record: %w", err)
	}
	return s.syncDir()
}

func (s *Store) remove(localID string) error {
	if err := os.Remove(s.path(localID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete capture record: %w", err)
	}
	return s.syncDir()
}

func (s *Store) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("failed to open capture dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync capture dir: %w", err)
	}
	return nil
}
