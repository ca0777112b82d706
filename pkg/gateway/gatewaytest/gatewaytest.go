// Package gatewaytest provides a scriptable gateway for engine tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/guido-cesarano/looprelay/pkg/gateway"
)

// SendFunc decides the outcome of the n-th Send call (1-based).
// Returning a non-nil panicValue makes Send panic with it.
type SendFunc func(n int, payload, destination string) (panicValue any, err error)

// Gateway is a thread-safe scripted gateway.
type Gateway struct {
	mu sync.Mutex

	// AuthFailures is the number of Authenticate calls that fail before
	// the first success.
	AuthFailures int
	// OnSend scripts Send outcomes. Nil means always succeed.
	OnSend SendFunc
	// DescribeErr is returned by Describe when set.
	DescribeErr error

	authCalls     int
	sendCalls     int
	closeCalls    int
	describeCalls int
	inFlight      int
	maxInFlight   int
	credentials   []string
	payloads      []string
}

// New returns a Gateway that always succeeds.
func New() *Gateway { return &Gateway{} }

func (g *Gateway) Authenticate(ctx context.Context, credential string) (gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authCalls++
	g.credentials = append(g.credentials, credential)
	if g.authCalls <= g.AuthFailures {
		return nil, gateway.ErrAuthFailed
	}
	return &session{g: g}, nil
}

// AuthCalls returns the number of Authenticate calls.
func (g *Gateway) AuthCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authCalls
}

// SendCalls returns the number of Send calls.
func (g *Gateway) SendCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sendCalls
}

// CloseCalls returns how many times a session teardown was requested.
func (g *Gateway) CloseCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeCalls
}

// DescribeCalls returns the number of metadata lookups.
func (g *Gateway) DescribeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.describeCalls
}

// MaxInFlight returns the highest number of session calls that were
// running at the same time.
func (g *Gateway) MaxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInFlight
}

// enter must be called with g.mu held.
func (g *Gateway) enter() {
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
}

func (g *Gateway) leave() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
}

// Payloads returns a copy of every payload passed to Send.
func (g *Gateway) Payloads() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.payloads...)
}

// Credentials returns a copy of every credential passed to Authenticate.
func (g *Gateway) Credentials() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.credentials...)
}

type session struct {
	g *Gateway
}

func (s *session) Send(ctx context.Context, payload, destination string) error {
	s.g.mu.Lock()
	s.g.sendCalls++
	n := s.g.sendCalls
	s.g.payloads = append(s.g.payloads, payload)
	fn := s.g.OnSend
	s.g.enter()
	s.g.mu.Unlock()
	defer s.g.leave()

	if fn == nil {
		return nil
	}
	p, err := fn(n, payload, destination)
	if p != nil {
		panic(p)
	}
	return err
}

func (s *session) Describe(ctx context.Context, destination string) (gateway.Metadata, error) {
	s.g.mu.Lock()
	s.g.describeCalls++
	err := s.g.DescribeErr
	s.g.enter()
	s.g.mu.Unlock()
	defer s.g.leave()
	if err != nil {
		return gateway.Metadata{}, err
	}
	return gateway.Metadata{Name: "dest-" + destination}, nil
}

func (s *session) Close(ctx context.Context) error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.g.closeCalls++
	return nil
}
