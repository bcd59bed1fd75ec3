package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Alignment is the base-address alignment of every allocation.
const Alignment = 512

// Device allocates raw device memory.
type Device interface {
	Alloc(n int64) (Buffer, error)
	Free(b Buffer) error
}

// Allocator hands out scratch buffers scoped to a single kernel invocation
// and owns the process-wide lock used to quiet allocation while algorithms
// are being benchmarked.
type Allocator interface {
	Scratch(ctx context.Context, n int64) (*Scratch, error)
	Lock() sync.Locker
}

var processLock sync.Mutex

// ProcessLock is the lock shared by every allocator in the process.
func ProcessLock() *sync.Mutex {
	return &processLock
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// NopLocker is a Locker that never blocks.
func NopLocker() sync.Locker {
	return nopLocker{}
}

// Scratch is a buffer borrowed from a Pool. Release returns it.
type Scratch struct {
	Buffer
	pool *Pool
	full Buffer
	once sync.Once
}

func (s *Scratch) Release() {
	if s == nil || s.pool == nil {
		return
	}
	s.once.Do(func() {
		s.pool.put(s.full)
	})
}

// Stats counts pool activity.
type Stats struct {
	Allocs   int64
	Reuses   int64
	InUse    int64
	Reserved int64
}

// Pool caches device allocations by rounded size.
type Pool struct {
	dev  Device
	lock sync.Locker

	mu    sync.Mutex
	free  map[int64][]Buffer
	stats Stats
	max   int
}

type PoolOption func(*Pool)

// WithLock replaces the process-wide lock, mainly for tests.
func WithLock(l sync.Locker) PoolOption {
	return func(p *Pool) { p.lock = l }
}

// WithMaxCached bounds how many free buffers of one size are kept.
func WithMaxCached(n int) PoolOption {
	return func(p *Pool) { p.max = n }
}

func NewPool(dev Device, opts ...PoolOption) *Pool {
	p := &Pool{
		dev:  dev,
		lock: ProcessLock(),
		free: make(map[int64][]Buffer),
		max:  4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Lock() sync.Locker {
	return p.lock
}

// Scratch returns a buffer of at least n bytes (n is rounded up to the
// alignment; the returned view is exactly n bytes long).
func (p *Pool) Scratch(ctx context.Context, n int64) (*Scratch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("scratch size must be > 0, got %d", n)
	}
	size := roundUp(n, Alignment)

	p.mu.Lock()
	if bufs := p.free[size]; len(bufs) > 0 {
		buf := bufs[len(bufs)-1]
		p.free[size] = bufs[:len(bufs)-1]
		p.stats.Reuses++
		p.stats.InUse += size
		p.mu.Unlock()
		return &Scratch{Buffer: buf.Slice(0, n), pool: p, full: buf}, nil
	}
	p.mu.Unlock()

	p.lock.Lock()
	buf, err := p.dev.Alloc(size)
	p.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("allocate %d byte scratch: %w", size, err)
	}

	p.mu.Lock()
	p.stats.Allocs++
	p.stats.InUse += size
	p.stats.Reserved += size
	p.mu.Unlock()
	return &Scratch{Buffer: buf.Slice(0, n), pool: p, full: buf}, nil
}

func (p *Pool) put(buf Buffer) {
	p.mu.Lock()
	size := buf.Len()
	p.stats.InUse -= size
	if len(p.free[size]) < p.max {
		p.free[size] = append(p.free[size], buf)
		p.mu.Unlock()
		return
	}
	p.stats.Reserved -= size
	p.mu.Unlock()

	p.lock.Lock()
	_ = p.dev.Free(buf)
	p.lock.Unlock()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close frees every cached buffer. Buffers still borrowed are not tracked.
func (p *Pool) Close() error {
	p.mu.Lock()
	free := p.free
	p.free = make(map[int64][]Buffer)
	p.mu.Unlock()

	p.lock.Lock()
	defer p.lock.Unlock()
	var errs []error
	for size, bufs := range free {
		for _, b := range bufs {
			if err := p.dev.Free(b); err != nil {
				errs = append(errs, err)
			}
		}
		p.mu.Lock()
		p.stats.Reserved -= size * int64(len(bufs))
		p.mu.Unlock()
	}
	return errors.Join(errs...)
}

func roundUp(x, m int64) int64 {
	return (x + m - 1) / m * m
}

// HostDevice allocates from the Go heap. It stands in for device memory in
// the simulated backend and in tests.
type HostDevice struct{}

func (HostDevice) Alloc(n int64) (Buffer, error) {
	if n <= 0 {
		return Buffer{}, fmt.Errorf("host alloc size must be > 0")
	}
	return HostBuffer(make([]byte, n)), nil
}

func (HostDevice) Free(Buffer) error {
	return nil
}
