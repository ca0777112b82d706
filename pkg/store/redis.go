package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

const (
	// TasksKey is the hash holding one JSON record per running task.
	TasksKey = "looprelay:tasks"
	// CredentialPrefix prefixes the per-task credential keys.
	CredentialPrefix = "looprelay:credential:"
)

// RedisStore keeps the snapshot in a Redis hash.
//
// Layout:
//   - looprelay:tasks: hash, field = task id, value = JSON record
type RedisStore struct {
	rdb *redis.Client
	enc Encoder
}

// NewRedisClient connects to the Redis server at addr ("host:port").
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

// NewRedisStore creates a store on top of an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, enc: JSONEncoder{}}
}

// Save replaces the whole hash atomically inside a MULTI/EXEC pipeline, so a
// reader never sees a half-written snapshot.
func (s *RedisStore) Save(ctx context.Context, records []tasks.Record) error {
	fields := make([]any, 0, len(records)*2)
	for _, rec := range records {
		data, err := s.enc.Encode(rec)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", rec.ID, err)
		}
		fields = append(fields, rec.ID, data)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, TasksKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, TasksKey, fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// Load reads every record of the hash. Undecodable entries are skipped and
// logged so that one corrupt record cannot block the others.
func (s *RedisStore) Load(ctx context.Context) (map[string]tasks.Record, error) {
	raw, err := s.rdb.HGetAll(ctx, TasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}

	out := make(map[string]tasks.Record, len(raw))
	for id, data := range raw {
		var rec tasks.Record
		if err := s.enc.Decode([]byte(data), &rec); err != nil {
			logger.Log.Error().Err(err).Str("task_id", id).Msg("Skipping corrupt task record")
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		out[id] = rec
	}
	return out, nil
}

// RedisVault stores credentials as plain Redis strings.
type RedisVault struct {
	rdb *redis.Client
}

// NewRedisVault creates a vault on top of an existing client.
func NewRedisVault(rdb *redis.Client) *RedisVault {
	return &RedisVault{rdb: rdb}
}

func credentialKey(taskID string) string { return CredentialPrefix + taskID }

// Put stores the credential of a task.
func (v *RedisVault) Put(ctx context.Context, taskID, credential string) error {
	return v.rdb.Set(ctx, credentialKey(taskID), credential, 0).Err()
}

// Get returns the credential of a task or ErrNotFound.
func (v *RedisVault) Get(ctx context.Context, taskID string) (string, error) {
	cred, err := v.rdb.Get(ctx, credentialKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return cred, err
}

// Delete removes the credential of a task. Deleting a missing key is not an
// error.
func (v *RedisVault) Delete(ctx context.Context, taskID string) error {
	return v.rdb.Del(ctx, credentialKey(taskID)).Err()
}
