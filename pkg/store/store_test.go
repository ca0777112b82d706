package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis() (*miniredis.Miniredis, *redis.Client) {
	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	return s, NewRedisClient(s.Addr())
}

func sampleRecord(id string) tasks.Record {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return tasks.Record{
		ID:           id,
		Destination:  "dest-" + id,
		DelaySeconds: 7,
		Messages:     []string{"pre a post", "pre b post"},
		Prefix:       "pre",
		Suffix:       "post",
		CurrentIndex: 1,
		LoopCount:    3,
		RestartCount: 2,
		Stats: tasks.Stats{
			Sent:        7,
			Failed:      1,
			Loops:       3,
			Restarts:    2,
			LastSuccess: created.Add(time.Minute),
		},
		Logs: []tasks.LogEntry{
			{Time: created.Add(2 * time.Minute), Message: "Sent message 2/2, loop 4", Severity: tasks.SeveritySuccess},
			{Time: created.Add(time.Minute), Message: "Logged in successfully", Severity: tasks.SeverityInfo},
		},
		CreatedAt: created,
	}
}

func assertRecord(t *testing.T, want, got tasks.Record) {
	t.Helper()
	if got.ID != want.ID || got.Destination != want.Destination || got.DelaySeconds != want.DelaySeconds {
		t.Errorf("Identity mismatch: want %+v, got %+v", want, got)
	}
	if len(got.Messages) != len(want.Messages) || got.Messages[1] != want.Messages[1] {
		t.Errorf("Messages mismatch: want %q, got %q", want.Messages, got.Messages)
	}
	if got.CurrentIndex != want.CurrentIndex || got.LoopCount != want.LoopCount || got.RestartCount != want.RestartCount {
		t.Errorf("Cursor mismatch: want %d/%d/%d, got %d/%d/%d",
			want.CurrentIndex, want.LoopCount, want.RestartCount,
			got.CurrentIndex, got.LoopCount, got.RestartCount)
	}
	if got.Stats.Sent != want.Stats.Sent || got.Stats.Failed != want.Stats.Failed {
		t.Errorf("Stats mismatch: want %+v, got %+v", want.Stats, got.Stats)
	}
	if !got.Stats.LastSuccess.Equal(want.Stats.LastSuccess) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Timestamps mismatch: want %+v, got %+v", want, got)
	}
	if len(got.Logs) != len(want.Logs) || got.Logs[0].Message != want.Logs[0].Message {
		t.Errorf("Logs mismatch: want %+v, got %+v", want.Logs, got.Logs)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, rdb := setupTestRedis()
	defer s.Close()
	ctx := context.Background()
	st := NewRedisStore(rdb)

	recs := []tasks.Record{sampleRecord("t1"), sampleRecord("t2")}
	if err := st.Save(ctx, recs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(loaded))
	}
	assertRecord(t, recs[0], loaded["t1"])
	assertRecord(t, recs[1], loaded["t2"])
}

func TestRedisStoreSaveReplaces(t *testing.T) {
	s, rdb := setupTestRedis()
	defer s.Close()
	ctx := context.Background()
	st := NewRedisStore(rdb)

	if err := st.Save(ctx, []tasks.Record{sampleRecord("t1"), sampleRecord("t2")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Save(ctx, []tasks.Record{sampleRecord("t2")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, _ := rdb.HLen(ctx, TasksKey).Result()
	if n != 1 {
		t.Errorf("Expected 1 field after replace, got %d", n)
	}

	// An empty running set clears the snapshot.
	if err := st.Save(ctx, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.Exists(TasksKey) {
		t.Error("Expected snapshot hash to be removed")
	}
	loaded, err := st.Load(ctx)
	if err != nil || len(loaded) != 0 {
		t.Errorf("Expected empty snapshot, got %v, %v", loaded, err)
	}
}

func TestRedisStoreSkipsCorrupt(t *testing.T) {
	s, rdb := setupTestRedis()
	defer s.Close()
	ctx := context.Background()
	st := NewRedisStore(rdb)

	if err := st.Save(ctx, []tasks.Record{sampleRecord("good")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.HSet(TasksKey, "bad", "{not json")

	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := loaded["bad"]; ok {
		t.Error("Corrupt record must be skipped")
	}
	if _, ok := loaded["good"]; !ok {
		t.Error("Valid record must survive a corrupt neighbour")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, rdb := setupTestRedis()
	st := NewRedisStore(rdb)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.Save(ctx, []tasks.Record{sampleRecord("t1")}); err == nil {
		t.Error("Expected save error with Redis down")
	}
}

func TestRedisVault(t *testing.T) {
	s, rdb := setupTestRedis()
	defer s.Close()
	ctx := context.Background()
	v := NewRedisVault(rdb)

	if _, err := v.Get(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if err := v.Put(ctx, "t1", "secret-credential"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(CredentialPrefix + "t1")
	if err != nil || got != "secret-credential" {
		t.Errorf("Expected stored credential, got %q, %v", got, err)
	}
	cred, err := v.Get(ctx, "t1")
	if err != nil || cred != "secret-credential" {
		t.Errorf("Get returned %q, %v", cred, err)
	}
	if err := v.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := v.Delete(ctx, "t1"); err != nil {
		t.Errorf("Deleting twice must not fail: %v", err)
	}
	if s.Exists(CredentialPrefix + "t1") {
		t.Error("Expected credential key removed")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tasks.json")
	st := NewFileStore(path)
	ctx := context.Background()

	loaded, err := st.Load(ctx)
	if err != nil || len(loaded) != 0 {
		t.Fatalf("Expected empty snapshot before first save, got %v, %v", loaded, err)
	}

	want := sampleRecord("t1")
	if err := st.Save(ctx, []tasks.Record{want}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err = st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertRecord(t, want, loaded["t1"])

	if err := st.Save(ctx, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, _ = st.Load(ctx)
	if len(loaded) != 0 {
		t.Errorf("Expected empty snapshot, got %d records", len(loaded))
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Error("Expected decode error")
	}

	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := NewFileStore(path).Load(context.Background())
	if err != nil || len(loaded) != 0 {
		t.Errorf("Expected empty file to load as empty snapshot, got %v, %v", loaded, err)
	}
}

func TestDirVault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	v := NewDirVault(dir)
	ctx := context.Background()

	if err := v.Put(ctx, "t1", "secret-credential"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "credential_t1.txt"))
	if err != nil {
		t.Fatalf("Expected credential file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	cred, err := v.Get(ctx, "t1")
	if err != nil || cred != "secret-credential" {
		t.Errorf("Get returned %q, %v", cred, err)
	}
	if err := v.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := v.Get(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := v.Delete(ctx, "t1"); err != nil {
		t.Errorf("Deleting twice must not fail: %v", err)
	}
}

func TestDirVaultRejectsPathIDs(t *testing.T) {
	v := NewDirVault(t.TempDir())
	for _, id := range []string{"", "../escape", "a/b"} {
		if err := v.Put(context.Background(), id, "x"); err == nil {
			t.Errorf("Expected error for id %q", id)
		}
	}
}

func TestJSONEncoder(t *testing.T) {
	var enc JSONEncoder
	data, err := enc.Encode(sampleRecord("t1"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var rec tasks.Record
	if err := enc.Decode(data, &rec); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	assertRecord(t, sampleRecord("t1"), rec)
}
