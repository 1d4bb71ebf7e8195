// Package idgen issues human-readable invoice identifiers that are unique per user.
package idgen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultPrefix = "INV"
	DefaultWidth  = 6
)

// SeqSource reads the highest persisted counters. Persistence is the source of truth;
// the allocator's cache only avoids a read per allocation.
type SeqSource interface {
	MaxFrontendSeq(ctx context.Context, userID string) (int64, error)
	MaxFrontendSeqByUser(ctx context.Context) (map[string]int64, error)
}

// Config controls identifier formatting
type Config struct {
	Prefix string
	Width  int
}

// Allocator hands out monotonically increasing per-user counters.
// Allocations for one user are serialized by that user's lock; different users never contend.
type Allocator struct {
	source SeqSource
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]*userCounter
}

type userCounter struct {
	mu     sync.Mutex
	seeded bool
	last   int64
}

// NewAllocator creates an allocator. Call Initialize at process start.
func NewAllocator(source SeqSource, config Config, logger *zap.Logger) *Allocator {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	return &Allocator{
		source:   source,
		config:   config,
		logger:   logger,
		counters: make(map[string]*userCounter),
	}
}

// Initialize seeds the cache from every user's persisted maximum
func (a *Allocator) Initialize(ctx context.Context) error {
	n, err := a.reconcile(ctx)
	if err != nil {
		return fmt.Errorf("initialize invoice id cache: %w", err)
	}
	a.logger.Info("Invoice id cache initialized", zap.Int("users", n))
	return nil
}

// Refresh re-reads persisted maxima. A user's counter only moves forward:
// allocations from rolled-back or in-flight transactions stay consumed.
func (a *Allocator) Refresh(ctx context.Context) error {
	n, err := a.reconcile(ctx)
	if err != nil {
		return fmt.Errorf("refresh invoice id cache: %w", err)
	}
	a.logger.Debug("Invoice id cache refreshed", zap.Int("users", n))
	return nil
}

func (a *Allocator) reconcile(ctx context.Context) (int, error) {
	persisted, err := a.source.MaxFrontendSeqByUser(ctx)
	if err != nil {
		return 0, err
	}

	for userID, seq := range persisted {
		c := a.counter(userID)
		c.mu.Lock()
		if seq > c.last {
			c.last = seq
		}
		c.seeded = true
		c.mu.Unlock()
	}
	return len(persisted), nil
}

// Next allocates the next identifier for userID and returns it with its numeric counter
func (a *Allocator) Next(ctx context.Context, userID string) (string, int64, error) {
	if userID == "" {
		return "", 0, fmt.Errorf("allocate invoice id: empty user id")
	}

	c := a.counter(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seeded {
		seq, err := a.source.MaxFrontendSeq(ctx, userID)
		if err != nil {
			return "", 0, fmt.Errorf("seed invoice id for user %s: %w", userID, err)
		}
		if seq > c.last {
			c.last = seq
		}
		c.seeded = true
	}

	c.last++
	return a.Format(c.last), c.last, nil
}

// Last returns the most recently issued counter for userID and whether it is cached
func (a *Allocator) Last(userID string) (int64, bool) {
	a.mu.Lock()
	c, ok := a.counters[userID]
	a.mu.Unlock()
	if !ok {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.seeded
}

// Format renders a counter as an identifier, e.g. INV-000042
func (a *Allocator) Format(seq int64) string {
	return fmt.Sprintf("%s-%0*d", a.config.Prefix, a.config.Width, seq)
}

func (a *Allocator) counter(userID string) *userCounter {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.counters[userID]
	if !ok {
		c = &userCounter{}
		a.counters[userID] = c
	}
	return c
}
