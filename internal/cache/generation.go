package cache

import (
	"context"
	"sync"
	"time"
)

// Generational counts the flushes made through it. Readers record Generation
// before loading from storage and store the result with SetIfGeneration, which
// refuses the write when a Clear ran in between.
type Generational struct {
	store Store

	mu         sync.Mutex
	generation uint64
}

func NewGenerational(store Store) *Generational {
	return &Generational{store: store}
}

func (g *Generational) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return g.store.Get(ctx, key)
}

func (g *Generational) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.store.Set(ctx, key, value, ttl)
}

func (g *Generational) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	return g.store.Clear(ctx)
}

// Generation reports the number of flushes seen so far.
func (g *Generational) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// SetIfGeneration stores value only when no Clear happened since generation
// was read. It reports whether the value was written.
func (g *Generational) SetIfGeneration(ctx context.Context, generation uint64, key string, value []byte, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != generation {
		return false, nil
	}
	return true, g.store.Set(ctx, key, value, ttl)
}
