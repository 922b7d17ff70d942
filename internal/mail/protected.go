package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

// ErrCircuitOpen is a transport error: the worker retries it like any other.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrTransport)

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

type ProtectedConfig struct {
	Timeout          time.Duration // per send; 0 means no limit
	FailureThreshold int           // consecutive transport failures to open
	Cooldown         time.Duration // open -> half-open
	HalfOpenMaxCalls int
}

// ProtectedDispatcher wraps a Dispatcher with a send timeout and a circuit
// breaker. Only transport failures count against the breaker.
type ProtectedDispatcher struct {
	inner Dispatcher
	cfg   ProtectedConfig
	now   func() time.Time

	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedDispatcher(inner Dispatcher, cfg ProtectedConfig) *ProtectedDispatcher {
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedDispatcher{
		inner: inner,
		cfg:   cfg,
		now:   time.Now,
		state: stateClosed,
	}
}

func (p *ProtectedDispatcher) Send(ctx context.Context, to string, s playlist.Snapshot) error {
	if !p.allowRequest() {
		return ErrCircuitOpen
	}

	sendCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	err := p.inner.Send(sendCtx, to, s)
	if err != nil && sendCtx.Err() != nil && !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	}

	p.afterRequest(err)
	return err
}

// State reports the breaker state, for stats and tests.
func (p *ProtectedDispatcher) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.state)
}

func (p *ProtectedDispatcher) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateOpen:
		if p.now().Sub(p.openedAt) < p.cfg.Cooldown {
			return false
		}
		p.state = stateHalfOpen
		p.halfOpenInFlight = 1
		return true

	case stateHalfOpen:
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			return false
		}
		p.halfOpenInFlight++
		return true

	default:
		return true
	}
}

func (p *ProtectedDispatcher) afterRequest(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateHalfOpen && p.halfOpenInFlight > 0 {
		p.halfOpenInFlight--
	}

	// a bad address says nothing about the mail server
	if err != nil && !errors.Is(err, ErrTransport) {
		return
	}

	if err == nil {
		p.consecutiveFailures = 0
		p.state = stateClosed
		return
	}

	p.consecutiveFailures++

	if p.state == stateHalfOpen || p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.state = stateOpen
		p.openedAt = p.now()
	}
}
