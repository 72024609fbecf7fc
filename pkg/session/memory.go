package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps sessions in process. Expired entries are invisible to
// reads and purged by Sweep.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
	cron  *cron.Cron
}

// NewMemoryBackend creates an empty in-process backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[key]
	if !ok {
		return nil, nil
	}
	if !b.now().Before(item.expiresAt) {
		delete(b.items, key)
		return nil, nil
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = memoryItem{value: stored, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Sweep purges expired entries and returns how many were removed
func (b *MemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for k, item := range b.items {
		if !now.Before(item.expiresAt) {
			delete(b.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// StartSweeper runs Sweep on a cron schedule until Close
func (b *MemoryBackend) StartSweeper(schedule string, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(logger, "session sweep")
		if n := b.Sweep(); n > 0 {
			logger.WithField("removed", n).Debug("Swept expired sessions")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", schedule, err)
	}
	c.Start()

	b.mu.Lock()
	b.cron = c
	b.mu.Unlock()
	return nil
}

// Close stops the sweeper
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	c := b.cron
	b.cron = nil
	b.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}
