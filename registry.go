package scara_arm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DispatcherFactory builds the dispatcher for a port the first time it is acquired.
type DispatcherFactory func() (*Dispatcher, error)

type dispatcherEntry struct {
	dispatcher *Dispatcher
	config     *Config
	refCount   int64 // Atomic reference counter
	mu         sync.RWMutex
}

// DispatcherRegistry shares one dispatcher per arm port, so every resource
// talking to the same arm goes through the same busy lock.
type DispatcherRegistry struct {
	entries map[string]*dispatcherEntry // port path -> entry
	mu      sync.RWMutex
}

var globalRegistry = NewDispatcherRegistry()

func NewDispatcherRegistry() *DispatcherRegistry {
	return &DispatcherRegistry{
		entries: make(map[string]*dispatcherEntry),
	}
}

// Acquire returns the dispatcher for cfg.ArmPort, creating it with factory when
// the port has none. A port already held under a different config is a conflict.
func (r *DispatcherRegistry) Acquire(cfg *Config, factory DispatcherFactory) (*Dispatcher, error) {
	r.mu.RLock()
	entry, exists := r.entries[cfg.ArmPort]
	r.mu.RUnlock()

	if exists {
		return r.acquireExisting(entry, cfg)
	}
	return r.create(cfg, factory)
}

func (r *DispatcherRegistry) acquireExisting(entry *dispatcherEntry, cfg *Config) (*Dispatcher, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.dispatcher == nil {
		return nil, fmt.Errorf("dispatcher not available for port %s", cfg.ArmPort)
	}

	if !configsEqual(entry.config, cfg) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing dispatcher on %s uses different config (refCount: %d)", cfg.ArmPort, currentRefCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.dispatcher, nil
}

func (r *DispatcherRegistry) create(cfg *Config, factory DispatcherFactory) (*Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[cfg.ArmPort]; exists && entry.dispatcher != nil {
		return r.acquireExisting(entry, cfg)
	}

	entry := &dispatcherEntry{config: cfg}
	d, err := factory()
	if err != nil {
		// Failed creations are not cached; the next Acquire retries.
		return nil, fmt.Errorf("failed to create dispatcher for %s: %w", cfg.ArmPort, err)
	}

	entry.dispatcher = d
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[cfg.ArmPort] = entry
	return d, nil
}

// Release drops one reference to the port's dispatcher and closes it with the last one.
func (r *DispatcherRegistry) Release(port string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[port]
	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return nil
	}
	delete(r.entries, port)

	var err error
	if entry.dispatcher != nil {
		err = entry.dispatcher.Close()
	}
	entry.dispatcher = nil
	entry.config = nil
	atomic.StoreInt64(&entry.refCount, 0)
	return err
}

// ForceClose closes the port's dispatcher regardless of outstanding references.
func (r *DispatcherRegistry) ForceClose(port string) error {
	r.mu.Lock()
	entry, exists := r.entries[port]
	if exists {
		delete(r.entries, port)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.dispatcher != nil {
		err = entry.dispatcher.Close()
		entry.dispatcher = nil
		entry.config = nil
		atomic.StoreInt64(&entry.refCount, 0)
	}
	return err
}

// Status reports the reference count, whether a dispatcher exists, and a config summary.
func (r *DispatcherRegistry) Status(port string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	summary := ""
	if entry.config != nil {
		summary = fmt.Sprintf("Serial: %s@%d", entry.config.ArmPort, entry.config.BaudRate)
	}
	return atomic.LoadInt64(&entry.refCount), entry.dispatcher != nil, summary
}
