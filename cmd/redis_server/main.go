// Package main runs an in-memory Redis server for local development, so the
// redis store driver can be used without installing Redis.
//
// Usage:
//
//	go run ./cmd/redis_server -addr 127.0.0.1:6379
//	LOOPRELAY_STORE_DRIVER=redis LOOPRELAY_STORE_REDIS_ADDR=127.0.0.1:6379 go run ./cmd/server
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/store"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Listen address")
	flag.Parse()

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if s.Exists(store.TasksKey) {
		fields, _ := s.HKeys(store.TasksKey)
		logger.Log.Warn().Int("tasks", len(fields)).Msg("Discarding in-memory task snapshot")
	}
	logger.Log.Info().Msg("Shutting down MiniRedis...")
}
