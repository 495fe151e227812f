// Package txn serializes mutations against shared logical stores.
//
// A Manager provides per-store shared/exclusive locks granted in strict FIFO
// order, a single global queue for operations that span stores, and an atomic
// executor that runs named steps with verification and reverse-order rollback.
// Each store is a weighted semaphore where readers take one unit and writers
// take all of them. One Manager is constructed at startup and injected into
// every system that reads or writes a shared store.
package txn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JaimeStill/compass/pkg/lifecycle"
)

// Mode is the lock mode requested on a store.
type Mode int

const (
	// Read is a shared lock; any number of readers may hold it together.
	Read Mode = iota
	// ReadWrite is an exclusive lock held by a single caller.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "read"
}

// LockID identifies a granted lock. Zero is never issued.
type LockID uint64

// Stats is a point-in-time view of a store's lock state.
type Stats struct {
	Readers int  `json:"readers"`
	Writer  bool `json:"writer"`
	Waiting int  `json:"waiting"`
}

// writerWeight is the semaphore size of every store. A ReadWrite lock takes
// the whole weight, so it excludes every reader.
const writerWeight int64 = 1 << 30

func (m Mode) weight() int64 {
	if m == ReadWrite {
		return writerWeight
	}
	return 1
}

type storeLock struct {
	sem     *semaphore.Weighted
	held    map[LockID]Mode
	waiting int
}

// Manager coordinates locks, the global queue, and atomic execution.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*storeLock
	nextID LockID
	closed bool

	// done is cancelled by Close to withdraw every pending request.
	done   context.Context
	cancel context.CancelFunc

	queue queue

	lockTimeout    time.Duration
	verifyAttempts int
	logger         *slog.Logger
}

// New creates a Manager from the given configuration.
func New(cfg *Config, logger *slog.Logger) *Manager {
	done, cancel := context.WithCancel(context.Background())
	return &Manager{
		stores:         make(map[string]*storeLock),
		done:           done,
		cancel:         cancel,
		queue:          queue{sem: semaphore.NewWeighted(1)},
		lockTimeout:    cfg.LockTimeoutDuration(),
		verifyAttempts: max(cfg.VerifyAttempts, 1),
		logger:         logger.With("system", "txn"),
	}
}

// Start registers a shutdown hook that closes the manager.
func (m *Manager) Start(lc *lifecycle.Coordinator) error {
	m.logger.Info("starting transaction manager")

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		m.Close()
		m.logger.Info("transaction manager closed")
	})

	return nil
}

// Close rejects pending and future requests with ErrClosed.
// Locks already granted remain valid until released.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
}

// Acquire blocks until a lock of the given mode is granted on store.
// Requests are granted strictly in arrival order: a queued ReadWrite request
// blocks Read requests that arrive after it. If ctx ends first the request is
// withdrawn and a *ConcurrencyError is returned.
func (m *Manager) Acquire(ctx context.Context, store string, mode Mode) (LockID, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	sl := m.store(store)
	sl.waiting++
	m.mu.Unlock()

	err := m.acquire(ctx, sl.sem, mode.weight())

	m.mu.Lock()
	defer m.mu.Unlock()
	sl.waiting--

	if err != nil {
		if ctx.Err() == nil {
			return 0, ErrClosed
		}
		return 0, &ConcurrencyError{Store: store, Mode: mode, Err: ctx.Err()}
	}

	m.nextID++
	sl.held[m.nextID] = mode
	return m.nextID, nil
}

// acquire waits on sem until ctx ends or the manager closes.
func (m *Manager) acquire(ctx context.Context, sem *semaphore.Weighted, n int64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.done, cancel)
	defer stop()

	return sem.Acquire(wctx, n)
}

// Release returns a granted lock and wakes the next compatible waiters.
func (m *Manager) Release(store string, id LockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.stores[store]
	if !ok {
		return ErrUnknownLock
	}
	mode, ok := sl.held[id]
	if !ok {
		return ErrUnknownLock
	}
	delete(sl.held, id)
	sl.sem.Release(mode.weight())

	return nil
}

// WithLock acquires a lock on store, runs fn, and releases the lock on every
// exit path. The configured lock timeout bounds the wait for the lock only.
func (m *Manager) WithLock(ctx context.Context, store string, mode Mode, fn func(context.Context) error) error {
	actx := ctx
	if m.lockTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.lockTimeout)
		defer cancel()
	}

	id, err := m.Acquire(actx, store, mode)
	if err != nil {
		return err
	}
	defer m.Release(store, id)

	return fn(ctx)
}

// Stats reports the current lock state of store.
func (m *Manager) Stats(store string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.stores[store]
	if !ok {
		return Stats{}
	}
	return sl.stats()
}

// Locks reports the lock state of every store that has been locked at least once.
func (m *Manager) Locks() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.stores))
	for name, sl := range m.stores {
		out[name] = sl.stats()
	}
	return out
}

func (m *Manager) store(name string) *storeLock {
	sl, ok := m.stores[name]
	if !ok {
		sl = &storeLock{
			sem:  semaphore.NewWeighted(writerWeight),
			held: make(map[LockID]Mode),
		}
		m.stores[name] = sl
	}
	return sl
}

func (s *storeLock) stats() Stats {
	st := Stats{Waiting: s.waiting}
	for _, mode := range s.held {
		if mode == ReadWrite {
			st.Writer = true
			continue
		}
		st.Readers++
	}
	return st
}
