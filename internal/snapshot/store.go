package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	objectsDir = "objects"
	indexFile  = "index.json"
)

// ArchiveEntry records one downloaded snapshot kept on local disk.
type ArchiveEntry struct {
	Name        string    `json:"name"`
	Collection  string    `json:"collection"`
	RunID       string    `json:"run_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	ArchivedAt  time.Time `json:"archived_at"`
}

type archiveIndex struct {
	Entries   []ArchiveEntry `json:"entries"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store keeps downloaded snapshot blobs on disk, addressed by content hash,
// so a failed run leaves the exact bytes behind for inspection.
type Store struct {
	mu      sync.RWMutex
	rootDir string
	index   *archiveIndex
}

// NewStore creates or opens an archive at rootDir.
func NewStore(rootDir string) (*Store, error) {
	s := &Store{rootDir: rootDir}

	if err := os.MkdirAll(filepath.Join(rootDir, objectsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load archive index: %w", err)
		}
		s.index = &archiveIndex{Entries: []ArchiveEntry{}, UpdatedAt: time.Now()}
	}
	return s, nil
}

// Save writes the blob and records it in the index.
func (s *Store) Save(desc *Descriptor, runID string, blob Blob) (ArchiveEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := blob.Checksum()
	if err := s.writeObject(hash, blob); err != nil {
		return ArchiveEntry{}, fmt.Errorf("store snapshot %s: %w", desc.Name, err)
	}

	entry := ArchiveEntry{
		Name:        desc.Name,
		Collection:  desc.Collection,
		RunID:       runID,
		ContentHash: hash,
		Size:        int64(len(blob)),
		ArchivedAt:  time.Now().UTC(),
	}
	s.index.Entries = append(s.index.Entries, entry)
	s.index.UpdatedAt = time.Now()
	if err := s.saveIndex(); err != nil {
		return ArchiveEntry{}, err
	}
	return entry, nil
}

// Load returns the archived bytes for an entry.
func (s *Store) Load(entry ArchiveEntry) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.readObject(entry.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("read archived snapshot %s: %w", entry.Name, err)
	}
	return Blob(data), nil
}

// List returns all entries, newest first.
func (s *Store) List() []ArchiveEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ArchiveEntry, len(s.index.Entries))
	copy(out, s.index.Entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ArchivedAt.After(out[j].ArchivedAt)
	})
	return out
}

func (s *Store) writeObject(hash string, content []byte) error {
	dir := filepath.Join(s.rootDir, objectsDir, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	objPath := filepath.Join(dir, hash[2:])
	if _, err := os.Stat(objPath); err == nil {
		return nil // dedup
	}
	return os.WriteFile(objPath, content, 0o644)
}

func (s *Store) readObject(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}
	return os.ReadFile(filepath.Join(s.rootDir, objectsDir, hash[:2], hash[2:]))
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.rootDir, indexFile))
	if err != nil {
		return err
	}
	s.index = &archiveIndex{}
	if err := json.Unmarshal(data, s.index); err != nil {
		return err
	}
	for i, e := range s.index.Entries {
		if !validHash(e.ContentHash) {
			return fmt.Errorf("entry %d (%s): invalid content hash %q", i, e.Name, e.ContentHash)
		}
	}
	return nil
}

// validHash reports whether h is a hex SHA-256 digest.
func validHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.rootDir, indexFile), data, 0o644)
}
