package localstore

import (
	"context"
	"sync"
)

type memoryCollection[M any, P interface {
	*M
	Record
}] struct {
	name  string
	newID IDFunc

	mu   sync.RWMutex
	rows map[string]M
}

// NewMemoryCollection keeps records in process memory. Stored values are
// copied in and out so callers never alias the collection's state.
func NewMemoryCollection[M any, P interface {
	*M
	Record
}](name string, newID IDFunc) Collection[P] {
	return newMemoryCollection[M, P](name, newID)
}

func newMemoryCollection[M any, P interface {
	*M
	Record
}](name string, newID IDFunc) *memoryCollection[M, P] {
	return &memoryCollection[M, P]{
		name:  name,
		newID: newID,
		rows:  map[string]M{},
	}
}

func (c *memoryCollection[M, P]) Name() string { return c.name }

func (c *memoryCollection[M, P]) Put(_ context.Context, rec P) (P, error) {
	assignID[P](rec, c.newID)
	c.mu.Lock()
	c.rows[rec.RecordID()] = *(*M)(rec)
	c.mu.Unlock()
	return rec, nil
}

func (c *memoryCollection[M, P]) Get(_ context.Context, id string) (P, error) {
	c.mu.RLock()
	row, ok := c.rows[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return P(&row), nil
}

func (c *memoryCollection[M, P]) GetAll(context.Context) ([]P, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]P, 0, len(c.rows))
	for _, row := range c.rows {
		cp := row
		out = append(out, P(&cp))
	}
	return out, nil
}

func (c *memoryCollection[M, P]) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.rows, id)
	c.mu.Unlock()
	return nil
}

func (c *memoryCollection[M, P]) Clear(context.Context) error {
	c.mu.Lock()
	c.rows = map[string]M{}
	c.mu.Unlock()
	return nil
}

func (c *memoryCollection[M, P]) load(rows []P) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range rows {
		if rec == nil {
			continue
		}
		c.rows[rec.RecordID()] = *(*M)(rec)
	}
}
