package datasource

import (
	"errors"
	"sync"
	"time"

	"tradesim/internal/logger"
)

// ErrCircuitOpen 连续失败过多时快速失败，避免继续打远端接口。
var ErrCircuitOpen = errors.New("data source circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "CLOSED"
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// breaker 熔断器：threshold 次连续失败后打开，cooldown 后放行一次试探。
type breaker struct {
	mu          sync.Mutex
	name        string
	state       breakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	now         func() time.Time
}

func newBreaker(name string, threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// do runs fn unless the breaker is open. Context cancellation does not
// count as a source failure.
func (b *breaker) do(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.success()
	case isCanceled(err):
	default:
		b.failure()
	}
	return err
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			return false
		}
		b.transition(breakerHalfOpen)
	}
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != breakerClosed {
		b.transition(breakerClosed)
	}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case breakerClosed:
		if b.failures >= b.threshold {
			b.transition(breakerOpen)
		}
	case breakerHalfOpen:
		b.transition(breakerOpen)
	}
}

func (b *breaker) transition(to breakerState) {
	from := b.state
	b.state = to
	logger.Warnf("[data] %s breaker %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
