// Package store persists event records as one JSON file per record under
// <root>/<serverId>/<channelId>/<id>.json.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

const recordExt = ".json"

// FileStore is the durable mirror of the registry. Writes go through a
// temp file in the same directory followed by a rename, so a crash never
// leaves a partially written record behind.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates root if needed and returns a store rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, &model.ValidationError{Field: "root", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, &model.PersistenceError{Op: "mkdir", Path: root, Err: err}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string { return s.root }

// Put durably writes the full record, replacing any previous content.
func (s *FileStore) Put(rec model.EventRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

// Get reads the record stored for id in scope.
func (s *FileStore) Get(id string, scope model.Scope) (model.EventRecord, error) {
	if id == "" {
		return model.EventRecord{}, &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.pathFor(id, scope))
}

// LoadAll returns every readable record. A malformed file is logged and
// skipped; only a failure to walk the root itself is returned.
func (s *FileStore) LoadAll() ([]model.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(s.root, "*", "*", "*"+recordExt))
	if err != nil {
		return nil, &model.PersistenceError{Op: "scan", Path: s.root, Err: err}
	}

	records := make([]model.EventRecord, 0, len(files))
	for _, path := range files {
		rec, err := s.read(path)
		if err != nil {
			appLog.Error("store: skipping unreadable record", err, "path", path)
			continue
		}
		if err := rec.Validate(); err != nil {
			appLog.Error("store: skipping invalid record", err, "path", path)
			continue
		}
		records = append(records, rec)
	}

	appLog.Debug("store: load completed", "root", s.root, "files", len(files), "records", len(records))
	return records, nil
}

// Delete removes the record for id in scope. Deleting an absent record is
// not an error.
func (s *FileStore) Delete(id string, scope model.Scope) error {
	if id == "" {
		return &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(id, scope)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &model.PersistenceError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// UpdateFields applies delta to the stored record and writes it back.
// Unknown fields in delta are logged and ignored.
func (s *FileStore) UpdateFields(id string, scope model.Scope, delta model.Delta) (model.EventRecord, error) {
	if id == "" {
		return model.EventRecord{}, &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(s.pathFor(id, scope))
	if err != nil {
		return model.EventRecord{}, err
	}
	_, skipped := rec.Apply(delta)
	for _, e := range skipped {
		appLog.Error("store: ignoring field update", e, "id", id)
	}
	if err := rec.Validate(); err != nil {
		return model.EventRecord{}, err
	}
	if err := s.write(rec); err != nil {
		return model.EventRecord{}, err
	}
	return rec, nil
}

func (s *FileStore) read(path string) (model.EventRecord, error) {
	var rec model.EventRecord
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, fmt.Errorf("record %s: %w", path, model.ErrNotFound)
		}
		return rec, &model.PersistenceError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.EventRecord{}, &model.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	if rec.InterestedParticipants == nil {
		rec.InterestedParticipants = []string{}
	}
	return rec, nil
}

func (s *FileStore) write(rec model.EventRecord) error {
	path := s.pathFor(rec.ID, rec.Scope())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &model.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	data, err := Marshal(rec)
	if err != nil {
		return &model.PersistenceError{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return &model.PersistenceError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &model.PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &model.PersistenceError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &model.PersistenceError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &model.PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Marshal renders a record in the on-disk format.
func Marshal(rec model.EventRecord) ([]byte, error) {
	if rec.InterestedParticipants == nil {
		rec.InterestedParticipants = []string{}
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *FileStore) pathFor(id string, scope model.Scope) string {
	return filepath.Join(s.root, segment(scope.ServerID), segment(scope.ChannelID), segment(id)+recordExt)
}

// segment escapes a key component into a single safe path element.
// Characters outside [A-Za-z0-9.@-] become %XX so distinct ids never
// collide on disk; "_" is reserved for an empty component.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '@', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return strings.ReplaceAll(out, ".", "%2E")
	}
	return out
}
