package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/guido-cesarano/looprelay/pkg/tasks"
)

// FileStore keeps the snapshot as one JSON object keyed by task id.
type FileStore struct {
	path string
	enc  Encoder
	mu   sync.Mutex
}

// NewFileStore creates a store writing to path. Parent directories are
// created on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, enc: JSONEncoder{}}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Save writes the snapshot to a temporary file and renames it over the old
// one.
func (s *FileStore) Save(ctx context.Context, records []tasks.Record) error {
	byID := make(map[string]tasks.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	data, err := s.enc.Encode(byID)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store: replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing or empty file yields an empty map.
func (s *FileStore) Load(ctx context.Context) (map[string]tasks.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]tasks.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	out := map[string]tasks.Record{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	if err := s.enc.Decode(data, &out); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	for id, rec := range out {
		if rec.ID == "" {
			rec.ID = id
			out[id] = rec
		}
	}
	return out, nil
}

// DirVault writes each credential to <dir>/credential_<id>.txt, readable by
// the owner only.
type DirVault struct {
	dir string
}

// NewDirVault creates a vault rooted at dir.
func NewDirVault(dir string) *DirVault {
	return &DirVault{dir: dir}
}

func (v *DirVault) path(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || strings.Contains(taskID, "..") {
		return "", fmt.Errorf("store: invalid task id %q", taskID)
	}
	return filepath.Join(v.dir, "credential_"+taskID+".txt"), nil
}

// Put stores the credential of a task.
func (v *DirVault) Put(_ context.Context, taskID, credential string) error {
	p, err := v.path(taskID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("store: create vault dir: %w", err)
	}
	if err := os.WriteFile(p, []byte(credential), 0o600); err != nil {
		return fmt.Errorf("store: write credential: %w", err)
	}
	return nil
}

// Get returns the credential of a task or ErrNotFound.
func (v *DirVault) Get(_ context.Context, taskID string) (string, error) {
	p, err := v.path(taskID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: read credential: %w", err)
	}
	return string(data), nil
}

// Delete removes the credential file. A missing file is not an error.
func (v *DirVault) Delete(_ context.Context, taskID string) error {
	p, err := v.path(taskID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	return nil
}
