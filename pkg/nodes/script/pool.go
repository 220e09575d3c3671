package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	MaxSize       int // VMs kept idle and created at most
	MaxReuseCount int // uses before a VM is replaced
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxSize: 16, MaxReuseCount: 1000}
}

// Pool keeps sandboxed VMs of one security level for reuse across
// invocations. A VM is used by one invocation at a time.
type Pool struct {
	level         string
	pool          chan *vmEntry
	maxSize       int
	maxReuseCount int

	currentSize   int32
	totalCreated  int64
	totalAcquired int64

	mu     sync.Mutex
	closed bool
}

type vmEntry struct {
	vm       *goja.Runtime
	baseline map[string]struct{}
	uses     int
}

// PoolStats contains pool statistics.
type PoolStats struct {
	CurrentSize   int   `json:"current_size"`
	MaxSize       int   `json:"max_size"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	Available     int   `json:"available"`
}

// NewPool creates an empty pool producing VMs sandboxed at level.
func NewPool(level string, cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxReuseCount <= 0 {
		cfg.MaxReuseCount = def.MaxReuseCount
	}
	if level == "" {
		level = SecurityLevelStandard
	}
	return &Pool{
		level:         level,
		pool:          make(chan *vmEntry, cfg.MaxSize),
		maxSize:       cfg.MaxSize,
		maxReuseCount: cfg.MaxReuseCount,
	}
}

// Level returns the security level of the pool's VMs.
func (p *Pool) Level() string { return p.level }

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// acquire takes an idle VM, creates one below capacity, or waits.
func (p *Pool) acquire(ctx context.Context) (*vmEntry, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	atomic.AddInt64(&p.totalAcquired, 1)

	select {
	case e, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return e, nil
	default:
	}

	if atomic.AddInt32(&p.currentSize, 1) <= int32(p.maxSize) {
		e, err := p.create()
		if err != nil {
			atomic.AddInt32(&p.currentSize, -1)
			return nil, err
		}
		return e, nil
	}
	atomic.AddInt32(&p.currentSize, -1)

	select {
	case e, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release resets e and returns it to the pool. VMs that cannot be reset or
// have been used too often are replaced.
func (p *Pool) release(e *vmEntry) {
	e.uses++
	e.vm.ClearInterrupt()
	if e.uses >= p.maxReuseCount || p.reset(e) != nil {
		replacement, err := p.create()
		if err != nil {
			atomic.AddInt32(&p.currentSize, -1)
			return
		}
		e = replacement
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		atomic.AddInt32(&p.currentSize, -1)
		return
	}
	select {
	case p.pool <- e:
	default:
		atomic.AddInt32(&p.currentSize, -1)
	}
}

func (p *Pool) create() (*vmEntry, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := sandbox(vm, p.level); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}

	baseline := make(map[string]struct{})
	for _, name := range vm.GlobalObject().GetOwnPropertyNames() {
		baseline[name] = struct{}{}
	}
	atomic.AddInt64(&p.totalCreated, 1)
	return &vmEntry{vm: vm, baseline: baseline}, nil
}

// reset removes the globals defined since the VM was created. Globals that
// cannot be deleted, such as top-level var declarations, are cleared.
func (p *Pool) reset(e *vmEntry) error {
	global := e.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := e.baseline[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil || global.Get(name) != nil {
			if err := global.Set(name, goja.Undefined()); err != nil {
				return err
			}
		}
	}
	_, err := e.vm.RunString("1+1")
	return err
}

// Close drops every idle VM. Later acquisitions fail with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.pool)
	for range p.pool {
		atomic.AddInt32(&p.currentSize, -1)
	}
	return nil
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		CurrentSize:   int(atomic.LoadInt32(&p.currentSize)),
		MaxSize:       p.maxSize,
		TotalCreated:  atomic.LoadInt64(&p.totalCreated),
		TotalAcquired: atomic.LoadInt64(&p.totalAcquired),
		Available:     len(p.pool),
	}
}

func (s PoolStats) String() string {
	return fmt.Sprintf("Pool Stats: Current=%d, Max=%d, Created=%d, Acquired=%d, Available=%d",
		s.CurrentSize, s.MaxSize, s.TotalCreated, s.TotalAcquired, s.Available)
}
