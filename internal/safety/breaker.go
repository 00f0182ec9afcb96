package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	FailureThreshold uint32        // Transport failures before opening
	SuccessThreshold uint32        // Successes to close from half-open
	Cooldown         time.Duration // Time to wait before probing again
}

// Breaker shields the gateway from a struggling venue. Only
// transport-class failures count toward opening it; a definitive
// rejection from the venue proves the venue answered and is treated
// as a success for breaker purposes.
type Breaker struct {
	config   BreakerConfig
	name     string
	onChange func(from, to BreakerState)

	mutex     sync.RWMutex
	state     BreakerState
	failures  uint32
	successes uint32
	lastFail  time.Time
	retryAt   time.Time
}

// NewBreaker creates a circuit breaker with defaults for zero fields
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		name:   name,
	}
}

// SetStateChangeCallback sets a callback invoked on every transition
func (b *Breaker) SetStateChangeCallback(callback func(from, to BreakerState)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onChange = callback
}

// Call executes fn with circuit breaker protection. While the breaker
// is open it returns a retryable CIRCUIT_OPEN gateway error without
// invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if !b.canExecute() {
		return broker.NewGatewayError("CIRCUIT_OPEN", fmt.Sprintf("circuit breaker %s is open", b.name), true)
	}

	err := fn()

	switch {
	case err == nil:
		b.recordSuccess()
	case broker.IsRetryableError(err):
		b.recordFailure()
	default:
		// Definitive rejection: the venue answered, count neither way.
	}

	return err
}

// canExecute determines if the breaker allows execution
func (b *Breaker) canExecute() bool {
	b.mutex.RLock()
	state := b.state
	retryAt := b.retryAt
	b.mutex.RUnlock()

	switch state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Now().After(retryAt) {
			b.toHalfOpen()
			return true
		}
		return false
	default:
		return false
	}
}

// recordSuccess records a successful call
func (b *Breaker) recordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures = 0

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.toClosed()
		}
	case StateOpen:
		// Should not happen, recover anyway
		b.toClosed()
	}
}

// recordFailure records a transport-class failure
func (b *Breaker) recordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures++
	b.lastFail = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.toOpen()
		}
	case StateHalfOpen:
		b.toOpen()
	case StateOpen:
		b.retryAt = time.Now().Add(b.config.Cooldown)
	}
}

// toClosed transitions to closed state, caller holds the lock
func (b *Breaker) toClosed() {
	b.changeState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// toOpen transitions to open state, caller holds the lock
func (b *Breaker) toOpen() {
	b.changeState(StateOpen)
	b.retryAt = time.Now().Add(b.config.Cooldown)
	b.successes = 0
}

// toHalfOpen transitions to half-open state
func (b *Breaker) toHalfOpen() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.changeState(StateHalfOpen)
	b.successes = 0
}

// changeState changes the state and fires the callback
func (b *Breaker) changeState(newState BreakerState) {
	oldState := b.state
	b.state = newState

	if b.onChange != nil && oldState != newState {
		// Run the callback off the lock to avoid deadlock
		go b.onChange(oldState, newState)
	}
}

// State returns the current state of the breaker
func (b *Breaker) State() BreakerState {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters
func (b *Breaker) Stats() BreakerStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return BreakerStats{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFail,
		RetryAt:     b.retryAt,
	}
}

// BreakerStats holds statistics about a circuit breaker
type BreakerStats struct {
	Name        string
	State       BreakerState
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
	RetryAt     time.Time
}

// Reset returns the breaker to closed state
func (b *Breaker) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.toClosed()
}

// ForceOpen forces the breaker open
func (b *Breaker) ForceOpen() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.toOpen()
}

// BreakerManager manages the named circuit breakers
type BreakerManager struct {
	breakers map[string]*Breaker
	mutex    sync.RWMutex
}

// NewBreakerManager creates an empty breaker manager
func NewBreakerManager() *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate gets an existing breaker or creates a new one
func (bm *BreakerManager) GetOrCreate(name string, config BreakerConfig) *Breaker {
	bm.mutex.RLock()
	if b, exists := bm.breakers[name]; exists {
		bm.mutex.RUnlock()
		return b
	}
	bm.mutex.RUnlock()

	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	// Double-check after acquiring write lock
	if b, exists := bm.breakers[name]; exists {
		return b
	}

	b := NewBreaker(name, config)
	bm.breakers[name] = b
	return b
}

// Get gets an existing breaker
func (bm *BreakerManager) Get(name string) (*Breaker, bool) {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	b, exists := bm.breakers[name]
	return b, exists
}

// Stats returns statistics for all breakers
func (bm *BreakerManager) Stats() []BreakerStats {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	stats := make([]BreakerStats, 0, len(bm.breakers))
	for _, b := range bm.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}

// Reset returns every breaker to closed state
func (bm *BreakerManager) Reset() {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	for _, b := range bm.breakers {
		b.Reset()
	}
}

// AnyOpen reports whether any breaker is currently open
func (bm *BreakerManager) AnyOpen() bool {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	for _, b := range bm.breakers {
		if b.State() == StateOpen {
			return true
		}
	}
	return false
}

// OpenNames returns the names of all open breakers
func (bm *BreakerManager) OpenNames() []string {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	var open []string
	for name, b := range bm.breakers {
		if b.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}
