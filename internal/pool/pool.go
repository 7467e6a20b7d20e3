// Package pool implements the storage driver connection pool (spec §4.7):
// a fixed-size set of driver sessions, recycled on a background ticker when
// they exceed their configured max lifespan or sit idle too long, grounded
// on the teacher's health-monitor ticker-loop-over-a-guarded-map shape
// (pkg/worker/health_monitor.go).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

// Config controls pool sizing and session recycling.
type Config struct {
	MaxSize          int
	ConnectionTimeout time.Duration
	MaxLifespan      time.Duration
	MaxIdle          time.Duration
	ReapInterval     time.Duration
}

// DefaultConfig mirrors the teacher's conservative worker defaults, scaled
// to a storage connection pool.
func DefaultConfig() Config {
	return Config{
		MaxSize:           10,
		ConnectionTimeout: 5 * time.Second,
		MaxLifespan:       45 * time.Minute,
		MaxIdle:           5 * time.Minute,
		ReapInterval:      30 * time.Second,
	}
}

// Factory creates one new driver session, e.g. storagedriver.Driver.NewSession
// wrapped to return the interface type.
type Factory func() (storagedriver.Driver, error)

// Pool hands out storagedriver.Driver sessions up to Config.MaxSize, and
// periodically recycles sessions that exceed MaxLifespan or MaxIdle.
type Pool struct {
	cfg     Config
	factory Factory

	mu    sync.Mutex
	idle  []*entry
	inUse map[storagedriver.Driver]*entry

	stopCh chan struct{}
	stopOnce sync.Once
}

type entry struct {
	driver    storagedriver.Driver
	createdAt time.Time
	lastUsed  time.Time
}

// New builds a Pool and eagerly creates its sessions, bounded by an
// errgroup so a slow or failing backend during startup doesn't serialize
// MaxSize sequential dial attempts.
func New(cfg Config, factory Factory) (*Pool, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		inUse:   make(map[storagedriver.Driver]*entry),
		stopCh:  make(chan struct{}),
	}

	entries := make([]*entry, cfg.MaxSize)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < cfg.MaxSize; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			driver, err := factory()
			if err != nil {
				return fmt.Errorf("pool: creating session %d: %w", i, err)
			}
			now := time.Now()
			entries[i] = &entry{driver: driver, createdAt: now, lastUsed: now}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, e := range entries {
			if e != nil {
				_ = e.driver.Close()
			}
		}
		return nil, err
	}

	p.idle = entries
	go p.reapLoop()
	return p, nil
}

// Acquire returns an available session, or KindPoolTimeout if none becomes
// free within ctx's deadline (or Config.ConnectionTimeout if ctx has none).
func (p *Pool) Acquire(ctx context.Context) (storagedriver.Driver, error) {
	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			e.lastUsed = time.Now()
			p.inUse[e.driver] = e
			p.mu.Unlock()
			return e.driver, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, apperror.New(apperror.KindPoolTimeout, "pool: no session available")
		}
		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(apperror.KindPoolTimeout, ctx.Err(), "pool: context canceled waiting for session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Release returns driver to the idle set.
func (p *Pool) Release(driver storagedriver.Driver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.inUse[driver]
	if !ok {
		return
	}
	delete(p.inUse, driver)
	e.lastUsed = time.Now()
	p.idle = append(p.idle, e)
}

// Check reports pool health for the heartbeat endpoint: at least one
// session must pass its driver's own Check.
func (p *Pool) Check(ctx context.Context) error {
	driver, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	defer p.Release(driver)
	return driver.Check(ctx)
}

// Close stops the reaper and closes every session, idle or in use.
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, e := range p.idle {
		if err := e.driver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, e := range p.inUse {
		if err := e.driver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	p.inUse = map[storagedriver.Driver]*entry{}
	return firstErr
}

// reapLoop recycles idle sessions that have exceeded MaxLifespan or sat
// idle longer than MaxIdle, replacing each with a freshly created one.
func (p *Pool) reapLoop() {
	interval := p.cfg.ReapInterval
	if interval <= 0 {
		interval = DefaultConfig().ReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapOnce()
		case <-p.stopCh:
			return
		}
	}
}

// reapOnce closes and replaces each stale session. Closing a session here
// is safe even though every session shares one underlying connection (e.g.
// boltstore.Store sessions share a single *bolt.DB): a session's Close is
// defined to only release its own session-local state, never the shared
// handle, which only the driver's root value closes at process shutdown.
func (p *Pool) reapOnce() {
	now := time.Now()
	p.mu.Lock()
	var keep []*entry
	var stale []*entry
	for _, e := range p.idle {
		if p.cfg.MaxLifespan > 0 && now.Sub(e.createdAt) > p.cfg.MaxLifespan {
			stale = append(stale, e)
			continue
		}
		if p.cfg.MaxIdle > 0 && now.Sub(e.lastUsed) > p.cfg.MaxIdle {
			stale = append(stale, e)
			continue
		}
		keep = append(keep, e)
	}
	p.idle = keep
	p.mu.Unlock()

	for _, e := range stale {
		_ = e.driver.Close()
		driver, err := p.factory()
		if err != nil {
			// Recycling failed; the pool runs one session short until the
			// next reap interval retries.
			continue
		}
		fresh := &entry{driver: driver, createdAt: time.Now(), lastUsed: time.Now()}
		p.mu.Lock()
		p.idle = append(p.idle, fresh)
		p.mu.Unlock()
	}
}
