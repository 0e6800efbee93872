package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-gateway/services/payload"
	"go.uber.org/zap"
)

// Outcome describes how a call was served
type Outcome string

const (
	OutcomeBypass    Outcome = "bypass"
	OutcomeMiss      Outcome = "miss"
	OutcomeHit       Outcome = "hit"
	OutcomeCoalesced Outcome = "coalesced"
)

// Observer receives one notification per Do call
type Observer interface {
	ObserveCache(outcome string)
}

// Config holds configuration for the Deduplicator
type Config struct {
	Enabled               bool
	DeterministicTTL      time.Duration
	NonDeterministicTTL   time.Duration
	MaxEntries            int
	CacheNonDeterministic bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		DeterministicTTL:    30 * time.Second,
		NonDeterministicTTL: 2500 * time.Millisecond,
		MaxEntries:          100,
	}
}

// Key identifies a call. Payload must be the sanitized wire body.
type Key struct {
	Provider string
	Model    string
	Payload  any
	Disabled bool
}

type entry[T any] struct {
	value         T
	timestamp     time.Time
	seq           uint64
	deterministic bool
}

type flight[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Deduplicator coalesces concurrent identical calls and caches recent results.
// The in-flight map, the cache and the counters share one mutex.
type Deduplicator[T any] struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry[T]
	inflight map[string]*flight[T]
	seq      uint64
	stats    Stats
}

// Stats represents deduplicator statistics
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`
	Bypassed  uint64 `json:"bypassed"`
	Size      int    `json:"size"`
	InFlight  int    `json:"in_flight"`
}

// New creates a Deduplicator. A nil observer is allowed.
func New[T any](cfg Config, logger *zap.Logger, observer Observer) *Deduplicator[T] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &Deduplicator[T]{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		now:      time.Now,
		entries:  make(map[string]*entry[T]),
		inflight: make(map[string]*flight[T]),
	}
}

// Do returns a cached result, attaches to an identical in-flight call, or runs
// invoke. invoke runs with a context detached from ctx cancellation so other
// attached callers still receive its result; a caller whose ctx ends returns
// ctx.Err() without waiting.
func (d *Deduplicator[T]) Do(ctx context.Context, key Key, invoke func(context.Context) (T, error)) (T, Outcome, error) {
	if !d.cfg.Enabled || key.Disabled {
		d.mu.Lock()
		d.stats.Bypassed++
		d.mu.Unlock()
		d.observe(OutcomeBypass)
		v, err := invoke(ctx)
		return v, OutcomeBypass, err
	}

	fp := payload.Fingerprint(key.Provider, key.Model, key.Payload)
	deterministic := payload.IsDeterministic(key.Payload)

	d.mu.Lock()
	if e, ok := d.entries[fp]; ok {
		if d.fresh(e, d.now()) {
			d.stats.Hits++
			d.mu.Unlock()
			d.observe(OutcomeHit)
			d.logger.Debug("dedup cache hit", zap.String("fingerprint", fp[:12]), zap.String("provider", key.Provider))
			return e.value, OutcomeHit, nil
		}
		delete(d.entries, fp)
	}
	if f, ok := d.inflight[fp]; ok {
		d.stats.Coalesced++
		d.mu.Unlock()
		d.observe(OutcomeCoalesced)
		d.logger.Debug("attached to in-flight request", zap.String("fingerprint", fp[:12]))
		return d.wait(ctx, f, OutcomeCoalesced)
	}
	f := &flight[T]{done: make(chan struct{})}
	d.inflight[fp] = f
	d.stats.Misses++
	d.mu.Unlock()
	d.observe(OutcomeMiss)

	go d.run(context.WithoutCancel(ctx), fp, deterministic, f, invoke)
	return d.wait(ctx, f, OutcomeMiss)
}

func (d *Deduplicator[T]) run(ctx context.Context, fp string, deterministic bool, f *flight[T], invoke func(context.Context) (T, error)) {
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			f.err = fmt.Errorf("deduplicated call panicked: %v", r)
			d.mu.Lock()
			delete(d.inflight, fp)
			d.mu.Unlock()
		}
	}()

	value, err := invoke(ctx)
	f.value, f.err = value, err

	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, fp)
	if err != nil || !d.cacheable(deterministic) {
		return
	}
	d.seq++
	d.entries[fp] = &entry[T]{
		value:         value,
		timestamp:     d.now(),
		seq:           d.seq,
		deterministic: deterministic,
	}
	d.evictLocked()
}

func (d *Deduplicator[T]) wait(ctx context.Context, f *flight[T], outcome Outcome) (T, Outcome, error) {
	select {
	case <-f.done:
		return f.value, outcome, f.err
	case <-ctx.Done():
		var zero T
		return zero, outcome, ctx.Err()
	}
}

func (d *Deduplicator[T]) ttl(deterministic bool) time.Duration {
	if deterministic {
		return d.cfg.DeterministicTTL
	}
	if !d.cfg.CacheNonDeterministic {
		return 0
	}
	return d.cfg.NonDeterministicTTL
}

func (d *Deduplicator[T]) cacheable(deterministic bool) bool {
	return d.ttl(deterministic) > 0
}

func (d *Deduplicator[T]) fresh(e *entry[T], now time.Time) bool {
	ttl := d.ttl(e.deterministic)
	return ttl > 0 && !e.timestamp.IsZero() && now.Sub(e.timestamp) < ttl
}

// evictLocked drops expired entries, then the oldest until the bound holds.
// Zero timestamps sort first; ties break on insertion order.
func (d *Deduplicator[T]) evictLocked() {
	now := d.now()
	for fp, e := range d.entries {
		if !d.fresh(e, now) {
			delete(d.entries, fp)
		}
	}

	for len(d.entries) > d.cfg.MaxEntries {
		var oldestFP string
		var oldest *entry[T]
		for fp, e := range d.entries {
			if oldest == nil || older(e, oldest) {
				oldestFP, oldest = fp, e
			}
		}
		delete(d.entries, oldestFP)
	}
}

func older[T any](a, b *entry[T]) bool {
	if !a.timestamp.Equal(b.timestamp) {
		return a.timestamp.Before(b.timestamp)
	}
	return a.seq < b.seq
}

// Stats returns a snapshot of the counters
func (d *Deduplicator[T]) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Size = len(d.entries)
	s.InFlight = len(d.inflight)
	return s
}

// Purge drops every cached entry. In-flight calls are not affected.
func (d *Deduplicator[T]) Purge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.entries)
}

func (d *Deduplicator[T]) observe(o Outcome) {
	if d.observer != nil {
		d.observer.ObserveCache(string(o))
	}
}
