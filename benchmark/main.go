// Package main provides a benchmark tool for looprelay to measure send-loop
// throughput. It starts many tasks against the loopback gateway with the
// minimum delay and reports how many sends complete in a fixed window,
// followed by the cost of a full snapshot save.
//
// Usage:
//
//	go run ./benchmark -tasks 1000 -duration 10s
//	go run ./benchmark -tasks 1000 -redis localhost:6379
package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/looprelay/pkg/gateway"
	"github.com/guido-cesarano/looprelay/pkg/registry"
	"github.com/guido-cesarano/looprelay/pkg/store"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
	"github.com/rs/zerolog"
)

func main() {
	numTasks := flag.Int("tasks", 1000, "Number of tasks to start")
	numWorkers := flag.Int("workers", 10, "Number of concurrent starters")
	numMessages := flag.Int("messages", 5, "Messages per task")
	duration := flag.Duration("duration", 10*time.Second, "Measurement window")
	redisAddr := flag.String("redis", "", "Save snapshots to Redis at this address instead of a temp file")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	ctx := context.Background()

	var st store.Store
	var vault tasks.Vault
	if *redisAddr != "" {
		rdb := store.NewRedisClient(*redisAddr)
		defer rdb.Close()
		st, vault = store.NewRedisStore(rdb), store.NewRedisVault(rdb)
	} else {
		dir := filepath.Join(".", "benchmark-data")
		st, vault = store.NewFileStore(filepath.Join(dir, "tasks.json")), store.NewDirVault(filepath.Join(dir, "creds"))
	}

	gw := gateway.NewLoopback()
	reg := registry.New(registry.Options{Gateway: gw, Vault: vault, Store: st})

	fmt.Printf("looprelay Benchmark\n")
	fmt.Printf("===================\n")
	fmt.Printf("Tasks to start: %d\n", *numTasks)
	fmt.Printf("Concurrent starters: %d\n\n", *numWorkers)

	lines := make([]string, *numMessages)
	for i := range lines {
		lines[i] = fmt.Sprintf("message %d", i+1)
	}
	body := strings.Join(lines, "\n")

	// Start phase
	fmt.Printf("Starting tasks...\n")
	startBegin := time.Now()

	var wg sync.WaitGroup
	var started atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				reply := reg.Dispatch(ctx, registry.Command{
					Type:         registry.CommandStart,
					Credential:   fmt.Sprintf("bench-credential-%d-%d", workerID, j),
					Destination:  fmt.Sprintf("dest-%d", workerID),
					MessageBody:  body,
					DelaySeconds: 1,
				})
				if reply.Type != registry.ReplyTaskStarted {
					fmt.Printf("Error starting: %s\n", reply.Message)
					return
				}
				started.Add(1)
			}
		}(i)
	}

	wg.Wait()
	startTime := time.Since(startBegin)

	fmt.Printf("✓ Started %d tasks in %s\n", started.Load(), startTime)
	fmt.Printf("  Throughput: %.2f starts/sec\n\n", float64(started.Load())/startTime.Seconds())

	// Send phase
	fmt.Printf("Measuring sends for %s...\n", *duration)
	before := gw.Sent()
	time.Sleep(*duration)
	sent := gw.Sent() - before

	fmt.Printf("✓ %d sends in %s\n", sent, *duration)
	fmt.Printf("  Throughput: %.2f sends/sec\n\n", float64(sent)/duration.Seconds())

	// Snapshot phase
	saveBegin := time.Now()
	if err := reg.Save(ctx); err != nil {
		fmt.Printf("Snapshot failed: %v\n", err)
	}
	fmt.Printf("✓ Snapshot of %d tasks saved in %s\n", reg.Len(), time.Since(saveBegin))

	for _, id := range reg.List() {
		_ = reg.Stop(ctx, id)
	}
	fmt.Printf("\nStopped %d tasks\n", started.Load())
}
