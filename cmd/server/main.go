// Package main implements the looprelay server. It restores the tasks that
// were running when the previous process exited, serves the HTTP and
// WebSocket command channel, and flushes the task snapshot on shutdown.
//
// Usage:
//
//	go run ./cmd/server -config looprelay.yaml
//
// Every setting can also be given as a LOOPRELAY_ environment variable,
// e.g. LOOPRELAY_SERVER_PORT=8081 or LOOPRELAY_STORE_DRIVER=redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/looprelay/pkg/api"
	"github.com/guido-cesarano/looprelay/pkg/config"
	"github.com/guido-cesarano/looprelay/pkg/events"
	"github.com/guido-cesarano/looprelay/pkg/gateway"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/registry"
	"github.com/guido-cesarano/looprelay/pkg/store"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
)

// backends are the persistence collaborators selected by configuration.
type backends struct {
	store store.Store
	vault tasks.Vault
	close func() error
}

// newBackends builds the snapshot store and credential vault. The redis
// driver keeps credentials in Redis too unless vault.dir is set.
func newBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	switch cfg.Store.Driver {
	case "redis":
		rdb := store.NewRedisClient(cfg.Store.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis not reachable at %s: %w", cfg.Store.RedisAddr, err)
		}
		b := &backends{
			store: store.NewRedisStore(rdb),
			vault: store.NewRedisVault(rdb),
			close: rdb.Close,
		}
		if cfg.Vault.Dir != "" {
			b.vault = store.NewDirVault(cfg.Vault.Dir)
		}
		return b, nil

	case "file":
		return &backends{
			store: store.NewFileStore(cfg.Store.Path),
			vault: store.NewDirVault(cfg.Vault.Dir),
			close: func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func main() {
	configFile := flag.String("config", "", "Path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.SetLevel(cfg.Server.LogLevel)

	ctx := context.Background()
	b, err := newBackends(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open persistence")
	}
	defer b.close()

	hub := events.NewHub(256)
	reg := registry.New(registry.Options{
		Gateway:      gateway.NewLoopback(),
		Vault:        b.vault,
		Store:        b.store,
		Sink:         hub,
		AutosaveSpec: cfg.Engine.AutosaveSpec,
		WatchdogSpec: cfg.Engine.WatchdogSpec,
		ResumeDelay:  cfg.Engine.ResumeDelay,
	})

	if n, err := reg.Rehydrate(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to load saved tasks")
	} else if n > 0 {
		logger.Log.Info().Int("tasks", n).Dur("resume_in", cfg.Engine.ResumeDelay).Msg("Restored saved tasks")
	}
	if err := reg.StartSweeps(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to schedule sweeps")
	}

	if cfg.Server.APIKey == "" {
		logger.Log.Warn().Msg("server.api_key not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(reg, hub).Router(cfg.Server.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Setup graceful shutdown handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Final save failed")
	}
}
