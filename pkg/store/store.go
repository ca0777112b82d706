// Package store persists task snapshots and credentials so that running
// tasks survive a process restart.
//
// Two snapshot backends are provided:
//   - RedisStore keeps every record as a field of one Redis hash
//   - FileStore keeps a JSON object keyed by task id in a single file
//
// Credentials are kept apart from snapshots in a Vault (DirVault or
// RedisVault) and are never part of a Record.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
)

// ErrNotFound is returned by vaults when no credential is stored for a task.
var ErrNotFound = errors.New("store: not found")

// Store saves and loads the running-task snapshot.
type Store interface {
	// Save replaces the snapshot with records.
	Save(ctx context.Context, records []tasks.Record) error
	// Load returns every persisted record keyed by task id. An absent
	// snapshot is an empty map, not an error.
	Load(ctx context.Context) (map[string]tasks.Record, error)
}

// Encoder defines record serialization.
type Encoder interface {
	Encode(any) ([]byte, error)
	Decode([]byte, any) error
}

// JSONEncoder encodes with the standard library and decodes with sonic.
type JSONEncoder struct{}

// Encode serializes a value to JSON.
func (JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

var (
	_ Store       = (*RedisStore)(nil)
	_ Store       = (*FileStore)(nil)
	_ tasks.Vault = (*RedisVault)(nil)
	_ tasks.Vault = (*DirVault)(nil)
)
