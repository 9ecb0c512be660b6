package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/core"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultBreakerCooldown = 30 * time.Second

type circuit struct {
	failures int
	state    circuitState
	openedAt time.Time
	openErr  error
}

// Breaker trips per private operation after maxFailures consecutive gateway
// failures. While open the operation fails fast; after the cooldown one trial call
// is let through and its outcome closes or reopens the circuit.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	log         logrus.FieldLogger
	now         func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

func NewBreaker(maxFailures int, cooldown time.Duration, log logrus.FieldLogger) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		log:         log,
		now:         time.Now,
		circuits:    make(map[string]*circuit),
	}
}

// Interceptor guards private operations; public ones pass straight through.
func (b *Breaker) Interceptor() Interceptor {
	return func(ctx context.Context, op Op, next Handler) error {
		if b == nil || b.maxFailures < 1 || !op.Private {
			return next(ctx)
		}
		if err := b.allow(op.Name); err != nil {
			return err
		}
		err := next(ctx)
		b.record(ctx, op.Name, err)
		return err
	}
}

// State reports the circuit state of the named operation.
func (b *Breaker) State(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[name]; ok {
		return string(c.state)
	}
	return string(circuitClosed)
}

func (b *Breaker) circuitLocked(name string) *circuit {
	c, ok := b.circuits[name]
	if !ok {
		c = &circuit{state: circuitClosed}
		b.circuits[name] = c
	}
	return c
}

func (b *Breaker) allow(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(name)
	switch c.state {
	case circuitOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return c.openErr
		}
		c.state = circuitHalfOpen
		b.logf(logrus.InfoLevel, name, "circuit half open", logrus.Fields{"cooldown": b.cooldown.String()})
	case circuitHalfOpen:
		// a trial call is already in flight
		return c.openErr
	}
	return nil
}

type outcome int

const (
	outcomeNeutral outcome = iota
	outcomeSuccess
	outcomeFailure
)

// record updates the circuit after a call. The call that trips the circuit still
// returns its own error; later calls fail fast until the cooldown passes.
func (b *Breaker) record(ctx context.Context, name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(name)

	switch classifyOutcome(ctx, err) {
	case outcomeNeutral:
		// an inconclusive trial call gives the next call its turn
		if c.state == circuitHalfOpen {
			c.state = circuitOpen
		}
		return
	case outcomeSuccess:
		if c.state != circuitClosed || c.failures > 0 {
			b.logf(logrus.InfoLevel, name, "circuit recovered", logrus.Fields{
				"previous_failures": c.failures,
				"from_state":        string(c.state),
			})
		}
		c.state = circuitClosed
		c.failures = 0
		c.openErr = nil
		return
	}

	c.failures++
	if c.state != circuitHalfOpen && c.failures < b.maxFailures {
		if c.failures == b.maxFailures-1 {
			b.logf(logrus.WarnLevel, name, "circuit near trip", logrus.Fields{"failures": c.failures, "threshold": b.maxFailures})
		}
		return
	}
	c.state = circuitOpen
	c.openedAt = b.now()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, last error: %v", ErrCircuitOpen, name, c.failures, err)
	b.logf(logrus.ErrorLevel, name, "circuit tripped", logrus.Fields{"failures": c.failures, "threshold": b.maxFailures})
}

func (b *Breaker) logf(level logrus.Level, name, msg string, fields logrus.Fields) {
	if b.log == nil {
		return
	}
	b.log.WithFields(fields).WithField("op", name).Log(level, msg)
}

// classifyOutcome separates transport and server faults from answers the exchange
// gave on purpose, such as an unknown order or a rejected size. Errors raised before
// the gateway answered, including a caller giving up or a rate limiter refusing to
// wait past the deadline, are neutral.
func classifyOutcome(ctx context.Context, err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	for _, kind := range []error{
		core.ErrOrderNotFound,
		core.ErrOrderRejected,
		core.ErrInsufficientBalance,
		core.ErrDuplicateOrder,
		core.ErrUnknownMarket,
		core.ErrNotAuthenticated,
	} {
		if errors.Is(err, kind) {
			return outcomeSuccess
		}
	}
	if ctx.Err() != nil || !errors.Is(err, core.ErrGateway) {
		return outcomeNeutral
	}
	return outcomeFailure
}
