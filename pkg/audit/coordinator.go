package audit

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Coordinator binds multiple services to one shared audit database per
// path. It hands out a single *Store per resolved path and relies on
// the storage engine's own concurrency control; it adds no locking
// around database access and must not serialize it.
type Coordinator struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{stores: make(map[string]*Store)}
}

// Open returns the shared store for path, opening it on first use.
func (c *Coordinator) Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid audit path %q: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if store, ok := c.stores[abs]; ok {
		return store, nil
	}

	store, err := Open(abs)
	if err != nil {
		return nil, err
	}
	c.stores[abs] = store
	return store, nil
}

// CloseAll closes every opened store.
func (c *Coordinator) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for path, store := range c.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
	}
	c.stores = make(map[string]*Store)
	return errors.Join(errs...)
}
