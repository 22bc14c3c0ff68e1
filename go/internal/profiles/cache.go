package profiles

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Fetcher loads profiles in bulk. Ids the backend does not know are left out
// of the result.
type Fetcher interface {
	FetchProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
}

// Config holds profile cache settings
type Config struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	BatchSize     int           `yaml:"batch_size"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	// RetryAfter keeps a failed or unknown id from being fetched again
	// until it has passed.
	RetryAfter time.Duration `yaml:"retry_after"`
}

// DefaultConfig returns default cache settings
func DefaultConfig() Config {
	return Config{
		FetchTimeout:  5 * time.Second,
		BatchSize:     50,
		MaxConcurrent: 2,
		RetryAfter:    5 * time.Second,
	}
}

// Cache resolves display identities lazily. Request never blocks; it starts
// at most one fetch per id at a time.
type Cache struct {
	cfg     Config
	clock   clockwork.Clock
	fetcher Fetcher
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	profiles  map[uuid.UUID]models.Profile
	inflight  map[uuid.UUID]struct{}
	missed    map[uuid.UUID]time.Time
	listeners []func([]models.Profile)
}

// NewCache creates an empty cache backed by fetcher
func NewCache(cfg Config, clock clockwork.Clock, fetcher Fetcher) *Cache {
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:      cfg,
		clock:    clock,
		fetcher:  fetcher,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		profiles: make(map[uuid.UUID]models.Profile),
		inflight: make(map[uuid.UUID]struct{}),
		missed:   make(map[uuid.UUID]time.Time),
	}
}

// OnLoaded registers fn to be called with every batch of newly cached profiles
func (c *Cache) OnLoaded(fn func([]models.Profile)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Cache) Lookup(userID uuid.UUID) (models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.profiles[userID]
	return p, ok
}

// Put stores a profile the caller already has
func (c *Cache) Put(p models.Profile) {
	c.mu.Lock()
	c.profiles[p.UserID] = p
	delete(c.missed, p.UserID)
	c.mu.Unlock()
}

// Request starts background fetches for the ids that are neither cached, in
// flight, nor inside their retry delay.
func (c *Cache) Request(userIDs []uuid.UUID) {
	if c.fetcher == nil {
		return
	}

	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	var todo []uuid.UUID
	for _, id := range userIDs {
		if _, ok := c.profiles[id]; ok {
			continue
		}
		if _, ok := c.inflight[id]; ok {
			continue
		}
		if at, ok := c.missed[id]; ok && now.Sub(at) < c.cfg.RetryAfter {
			continue
		}
		c.inflight[id] = struct{}{}
		todo = append(todo, id)
	}

	// Add under mu so Close cannot be waiting already
	for start := 0; start < len(todo); start += c.cfg.BatchSize {
		batch := todo[start:min(start+c.cfg.BatchSize, len(todo))]
		c.wg.Add(1)
		go c.fetch(batch)
	}
}

func (c *Cache) fetch(ids []uuid.UUID) {
	defer c.wg.Done()

	var (
		found []models.Profile
		err   error
	)
	if err = c.sem.Acquire(c.ctx, 1); err == nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		found, err = c.fetcher.FetchProfiles(ctx, ids)
		cancel()
		c.sem.Release(1)
	}

	now := c.clock.Now()
	c.mu.Lock()
	for _, id := range ids {
		delete(c.inflight, id)
	}
	if err != nil {
		for _, id := range ids {
			c.missed[id] = now
		}
		c.mu.Unlock()
		if c.ctx.Err() == nil {
			log.Warn().Err(err).Int("count", len(ids)).Msg("failed to fetch profiles")
		}
		return
	}

	got := make(map[uuid.UUID]bool, len(found))
	for _, p := range found {
		c.profiles[p.UserID] = p
		delete(c.missed, p.UserID)
		got[p.UserID] = true
	}
	for _, id := range ids {
		if !got[id] {
			c.missed[id] = now
		}
	}
	listeners := append([]func([]models.Profile){}, c.listeners...)
	c.mu.Unlock()

	if len(found) > 0 {
		for _, fn := range listeners {
			fn(found)
		}
	}
}

// Close stops accepting requests and waits for fetches in flight
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
