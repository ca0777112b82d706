package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/rs/zerolog"
)

// Loopback is a Gateway that accepts any non-blank credential and records
// payloads locally instead of delivering them. It backs local runs, the
// benchmark and dry runs of a configuration.
type Loopback struct {
	log  zerolog.Logger
	sent atomic.Int64

	mu       sync.Mutex
	perDest  map[string]int64
	sessions int64
}

// NewLoopback creates a Loopback gateway.
func NewLoopback() *Loopback {
	return &Loopback{
		log:     logger.With("loopback"),
		perDest: make(map[string]int64),
	}
}

func (l *Loopback) Authenticate(ctx context.Context, credential string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(credential) == "" {
		return nil, ErrAuthFailed
	}
	l.mu.Lock()
	l.sessions++
	id := l.sessions
	l.mu.Unlock()

	l.log.Debug().Int64("session", id).Str("credential", logger.Mask(credential)).Msg("Session opened")
	return &loopbackSession{gw: l, id: id}, nil
}

// Sent returns the total number of accepted payloads.
func (l *Loopback) Sent() int64 { return l.sent.Load() }

// SentTo returns the number of accepted payloads for one destination.
func (l *Loopback) SentTo(destination string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perDest[destination]
}

type loopbackSession struct {
	gw *Loopback
	id int64
}

func (s *loopbackSession) Send(ctx context.Context, payload, destination string) error {
	if err := ctx.Err(); err != nil {
		return SessionFault(err)
	}
	if strings.TrimSpace(destination) == "" {
		return ErrRejected
	}
	s.gw.sent.Add(1)
	s.gw.mu.Lock()
	s.gw.perDest[destination]++
	s.gw.mu.Unlock()

	s.gw.log.Debug().
		Int64("session", s.id).
		Str("destination", destination).
		Int("bytes", len(payload)).
		Msg("Payload accepted")
	return nil
}

func (s *loopbackSession) Describe(_ context.Context, destination string) (Metadata, error) {
	return Metadata{Name: "loopback:" + destination}, nil
}
