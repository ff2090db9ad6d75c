package localstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/pkg/db"
	"go.uber.org/zap"
)

// DegradedFunc is told which collection switched to memory and why.
type DegradedFunc func(collection string, cause error)

type fallbackCollection[M any, P interface {
	*M
	Record
}] struct {
	durable    Collection[P]
	memory     *memoryCollection[M, P]
	log        *zap.Logger
	onDegraded DegradedFunc

	degraded atomic.Bool
	once     sync.Once
}

// WithFallback serves from durable until it reports the storage engine
// unavailable, then copies whatever it can still read into memory and serves
// from memory for the rest of the process.
func WithFallback[M any, P interface {
	*M
	Record
}](durable Collection[P], newID IDFunc, log *zap.Logger, onDegraded DegradedFunc) Collection[P] {
	if log == nil {
		log = zap.NewNop()
	}
	return &fallbackCollection[M, P]{
		durable:    durable,
		memory:     newMemoryCollection[M, P](durable.Name(), newID),
		log:        log,
		onDegraded: onDegraded,
	}
}

func (c *fallbackCollection[M, P]) Name() string { return c.durable.Name() }

// Degraded reports whether the collection is serving from memory.
func (c *fallbackCollection[M, P]) Degraded() bool { return c.degraded.Load() }

func (c *fallbackCollection[M, P]) Put(ctx context.Context, rec P) (P, error) {
	if !c.degraded.Load() {
		stored, err := c.durable.Put(ctx, rec)
		if !c.shouldDegrade(ctx, err) {
			return stored, err
		}
	}
	return c.memory.Put(ctx, rec)
}

func (c *fallbackCollection[M, P]) Get(ctx context.Context, id string) (P, error) {
	if !c.degraded.Load() {
		rec, err := c.durable.Get(ctx, id)
		if !c.shouldDegrade(ctx, err) {
			return rec, err
		}
	}
	return c.memory.Get(ctx, id)
}

func (c *fallbackCollection[M, P]) GetAll(ctx context.Context) ([]P, error) {
	if !c.degraded.Load() {
		rows, err := c.durable.GetAll(ctx)
		if !c.shouldDegrade(ctx, err) {
			return rows, err
		}
	}
	return c.memory.GetAll(ctx)
}

func (c *fallbackCollection[M, P]) Delete(ctx context.Context, id string) error {
	if !c.degraded.Load() {
		err := c.durable.Delete(ctx, id)
		if !c.shouldDegrade(ctx, err) {
			return err
		}
	}
	return c.memory.Delete(ctx, id)
}

func (c *fallbackCollection[M, P]) Clear(ctx context.Context) error {
	if !c.degraded.Load() {
		err := c.durable.Clear(ctx)
		if !c.shouldDegrade(ctx, err) {
			return err
		}
	}
	return c.memory.Clear(ctx)
}

// shouldDegrade switches to memory on an engine-level failure. Record-level
// errors such as constraint violations are returned to the caller unchanged.
func (c *fallbackCollection[M, P]) shouldDegrade(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var storageErr *apperr.LocalStorageError
	if !errors.As(err, &storageErr) || !db.IsUnavailableErr(storageErr.Err) {
		return false
	}

	c.once.Do(func() {
		if rows, snapErr := c.durable.GetAll(ctx); snapErr == nil {
			c.memory.load(rows)
		}
		c.degraded.Store(true)
		c.log.Warn("local store degraded to memory",
			zap.String("collection", c.Name()),
			zap.Error(err),
		)
		if c.onDegraded != nil {
			c.onDegraded(c.Name(), err)
		}
	})
	return true
}
