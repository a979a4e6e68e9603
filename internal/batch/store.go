package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// On-disk layout under the batch root:
//
//	<root>/parent_<ulid>/parent_batch.json   parent metadata snapshot
//	<root>/parent_<ulid>/.lock               advisory lock for read-modify-write
//	<root>/parent_<ulid>/results/            per-child and merged result files
//	<root>/<sanitized-batch-id>.json         standalone unit metadata
const (
	parentMetadataFile = "parent_batch.json"
	parentLockFile     = ".lock"
	resultsDirName     = "results"
	storeFileExtension = ".json"
)

// Common store errors.
var (
	ErrMetadataNotFound = errors.New("batch metadata not found")
	ErrCorruptMetadata  = errors.New("batch metadata is malformed")
)

// lockAcquireTimeout bounds how long a run waits for a sibling process
// holding the parent lock before giving up. Retries poll at
// lockRetryInterval.
const (
	lockAcquireTimeout = 30 * time.Second
	lockRetryInterval  = 100 * time.Millisecond
)

// Store is the durable, directory-based record of batch and parent-batch
// metadata. Every write is a complete snapshot via temp-file-then-rename so
// a killed process never leaves a half-written metadata file behind.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a batch store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("batch store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create batch store directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the batch store root directory.
func (s *Store) Root() string {
	return s.root
}

// ParentDir returns the directory holding a parent batch's metadata.
// parentID may already be a path to an existing parent directory, in which
// case it is returned as-is; this lets callers pass either form.
func (s *Store) ParentDir(parentID string) string {
	if info, err := os.Stat(parentID); err == nil && info.IsDir() {
		return parentID
	}
	return filepath.Join(s.root, parentID)
}

// ResultsDir returns (creating if needed) the results directory for a
// parent batch.
func (s *Store) ResultsDir(parentID string) (string, error) {
	dir := filepath.Join(s.ParentDir(parentID), resultsDirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	return dir, nil
}

// SaveParent persists a complete snapshot of the parent batch metadata.
// Callers mutating an existing parent must hold the parent lock; see
// WithParentLock.
func (s *Store) SaveParent(p *Parent) error {
	if err := p.Validate(); err != nil {
		return err
	}

	dir := s.ParentDir(p.ParentID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create parent batch directory: %w", err)
	}
	return writeJSONAtomic(filepath.Join(dir, parentMetadataFile), p)
}

// LoadParent reads parent batch metadata from the directory for parentID.
// Returns ErrMetadataNotFound when the directory or metadata file does not
// exist and ErrCorruptMetadata when it cannot be parsed or violates the
// parent invariants. Missing metadata is an error, never an empty parent:
// treating it as "nothing processed" would resubmit every record.
func (s *Store) LoadParent(parentID string) (*Parent, error) {
	path := filepath.Join(s.ParentDir(parentID), parentMetadataFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is store-internal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, path)
		}
		return nil, fmt.Errorf("failed to read parent metadata: %w", err)
	}

	var p Parent
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, path, err)
	}
	if p.ParentID == "" {
		return nil, fmt.Errorf("%w: %s: missing parent_id", ErrCorruptMetadata, path)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, path, err)
	}
	return &p, nil
}

// WithParentLock runs fn while holding an exclusive advisory lock on the
// parent directory, serializing read-modify-write cycles across processes.
// The lock is released on every exit path, including panics and errors.
// Callers must not perform provider network calls inside fn; poll and merge
// first, then reacquire the lock for the final metadata write.
func (s *Store) WithParentLock(parentID string, fn func() error) error {
	dir := s.ParentDir(parentID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create parent batch directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
	defer cancel()

	lock := flock.New(filepath.Join(dir, parentLockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire parent batch lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("parent batch %s is locked by another process", parentID)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	return fn()
}

// SaveUnit persists a standalone (non-parented) batch unit keyed by its
// provider batch ID.
func (s *Store) SaveUnit(u *Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.BatchID == "" {
		return errors.New("cannot persist a unit without a provider batch id")
	}
	return writeJSONAtomic(s.unitPath(u.BatchID), u)
}

// LoadUnit reads a standalone batch unit by provider batch ID.
func (s *Store) LoadUnit(batchID string) (*Unit, error) {
	path := s.unitPath(batchID)
	data, err := os.ReadFile(path) //nolint:gosec // path is store-internal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, path)
		}
		return nil, fmt.Errorf("failed to read batch metadata: %w", err)
	}

	var u Unit
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, path, err)
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, path, err)
	}
	return &u, nil
}

// IsParentID reports whether id names a parent batch rather than a
// provider batch handle.
func (s *Store) IsParentID(id string) bool {
	if strings.HasPrefix(filepath.Base(id), parentIDPrefix) {
		return true
	}
	_, err := os.Stat(filepath.Join(s.ParentDir(id), parentMetadataFile))
	return err == nil
}

// unitPath converts a provider batch ID into a filesystem-safe path,
// matching the sanitization the provider IDs may need (slashes, colons).
func (s *Store) unitPath(batchID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(batchID)
	return filepath.Join(s.root, safe+storeFileExtension)
}

// writeJSONAtomic writes v as indented JSON via a temporary file and rename,
// so readers never observe a partially-written snapshot.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch metadata: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write batch metadata: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename batch metadata: %w", err)
	}
	return nil
}
