// Package cache implements the bounded, concurrent sector buffer cache
// described in spec §4.1: a fixed set of C slots caching disk sectors,
// coordinating concurrent readers/writers/eviction/background flush
// without ever holding the global cache lock and a per-slot lock across
// an I/O. It is grounded on the teacher kernel's fs/blk.go (Bdev_block_t,
// Disk_i) for the block/disk vocabulary and on the original Pintos
// filesys/cache.c for the admission/eviction state machine, with the
// fixed "clock_hand = 10" eviction bug replaced by a real clock sweep
// per spec §9 design note 1.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"blockdev"
	"mem"
)

// cache_debug gates the eviction/flush trace prints below, in the style
// of the teacher kernel's bdev_debug switch.
var cache_debug = false

// Entry_t is one cache slot. See spec §3.1 for the invariants the
// fields must uphold.
type Entry_t struct {
	sync.Mutex // the per-entry lock guarding Refcount and quiescent

	OldSec mem.Sector
	NewSec mem.Sector

	Available bool
	Dirty     bool
	Accessed  bool
	Refcount  int

	Data mem.Bytepg_t

	ready      *sync.Cond // backed by the cache's global lock
	quiescent  *sync.Cond // backed by this entry's own lock
}

// Stats_t is a point-in-time snapshot of cache counters.
type Stats_t struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// Cache_t is the bounded sector buffer cache.
type Cache_t struct {
	mu    sync.Mutex // the global cache lock
	entries []*Entry_t
	hand  int // clock hand, persists across calls (spec §9 design note 1)

	disk          blockdev.Disk
	flushInterval time.Duration

	hits, misses, evictions, flushes uint64

	eg     *errgroup.Group
	cancel context.CancelFunc
	closed bool
}

// MkCache builds a cache of nslots slots over disk, flushing dirty
// stable slots every flushInterval.
func MkCache(disk blockdev.Disk, nslots int, flushInterval time.Duration) *Cache_t {
	if nslots <= 0 {
		panic("cache: nslots must be positive")
	}
	c := &Cache_t{
		entries:       make([]*Entry_t, nslots),
		disk:          disk,
		flushInterval: flushInterval,
	}
	for i := range c.entries {
		e := &Entry_t{
			Available: true,
			OldSec:    mem.InvalidSector,
			NewSec:    mem.InvalidSector,
		}
		e.ready = sync.NewCond(&c.mu)
		e.quiescent = sync.NewCond(&e.Mutex)
		c.entries[i] = e
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.eg = eg
	eg.Go(func() error {
		c.flushLoop(ctx)
		return nil
	})
	return c
}

// Nslots reports the number of cache slots.
func (c *Cache_t) Nslots() int {
	return len(c.entries)
}

func boundsCheck(off, n int) {
	if off < 0 || n < 0 || off+n > mem.SectorSize {
		panic(fmt.Sprintf("cache: chunk [%d,%d) out of sector bounds", off, off+n))
	}
}

// Read copies len(out) bytes from sector sec at intra-sector offset off
// into out. It may block on contention or I/O.
func (c *Cache_t) Read(sec mem.Sector, off int, out []byte) int {
	boundsCheck(off, len(out))
	return c.access(sec, off, out, false)
}

// Write copies len(in) bytes from in into sector sec at intra-sector
// offset off. It may block on contention or I/O.
func (c *Cache_t) Write(sec mem.Sector, off int, in []byte) int {
	boundsCheck(off, len(in))
	return c.access(sec, off, in, true)
}

// access implements the lookup/admission loop of spec §4.1. c.mu is
// acquired on entry and is released, by exactly one of the call paths
// below, before access returns.
func (c *Cache_t) access(sec mem.Sector, off int, buf []byte, write bool) int {
	c.mu.Lock()
scan:
	for {
		for _, e := range c.entries {
			if e.Available {
				continue
			}
			if e.OldSec == e.NewSec && e.NewSec == sec {
				// resident and stable
				if write {
					atomic.AddUint64(&c.hits, 1)
				} else {
					atomic.AddUint64(&c.hits, 1)
				}
				c.enter(e, off, buf, write)
				return len(buf)
			}
			if e.NewSec == sec && e.OldSec != sec {
				// another thread is filling this sector
				e.ready.Wait()
				continue scan
			}
			if e.OldSec == sec && e.OldSec != e.NewSec {
				// this slot is being evicted out of sec
				e.ready.Wait()
				continue scan
			}
		}
		break
	}
	atomic.AddUint64(&c.misses, 1)
	e := c.allocate(sec)
	c.enter(e, off, buf, write)
	return len(buf)
}

// allocate admits sector sec into some slot, per spec §4.1's Allocate
// algorithm. c.mu must be held on entry and is held (but possibly
// released and reacquired internally) on return.
func (c *Cache_t) allocate(sec mem.Sector) *Entry_t {
	// Empty slot case.
	for _, e := range c.entries {
		if !e.Available {
			continue
		}
		e.Available = false
		e.NewSec = sec
		e.Dirty = false
		e.Accessed = false
		c.mu.Unlock()

		c.disk.ReadSector(sec, e.Data[:])

		c.mu.Lock()
		e.OldSec = sec
		e.ready.Broadcast()
		return e
	}

	// Eviction case: clock sweep over non-available slots, preferring
	// accessed=false, clearing accessed on any slot passed over.
	// Tie-breaking is deterministic by slot index because the hand
	// only ever advances forward and wraps.
	n := len(c.entries)
	var victim *Entry_t
	for victim == nil {
		idx := c.hand
		c.hand = (c.hand + 1) % n
		e := c.entries[idx]
		if e.Available {
			continue
		}
		if e.Accessed {
			e.Accessed = false
			continue
		}
		victim = e
	}

	writeBack := victim.Dirty
	oldSec := victim.OldSec
	victim.NewSec = sec
	c.mu.Unlock()
	atomic.AddUint64(&c.evictions, 1)
	if cache_debug {
		fmt.Printf("cache: evict sector %v for %v, writeback=%v\n", oldSec, sec, writeBack)
	}

	victim.Lock()
	for victim.Refcount != 0 {
		victim.quiescent.Wait()
	}
	victim.Unlock()

	if writeBack {
		c.disk.WriteSector(oldSec, victim.Data[:])
	}
	c.disk.ReadSector(sec, victim.Data[:])

	c.mu.Lock()
	victim.Dirty = false
	victim.Accessed = false
	victim.OldSec = sec
	victim.ready.Broadcast()
	return victim
}

// enter performs the memcpy portion of spec §4.1's "Enter read/write".
// c.mu must be held on entry; enter releases it before returning.
func (c *Cache_t) enter(e *Entry_t, off int, buf []byte, write bool) {
	if write {
		e.Dirty = true
	}
	e.Accessed = true

	e.Lock()
	e.Refcount++
	c.mu.Unlock()
	e.Unlock()

	if write {
		copy(e.Data[off:off+len(buf)], buf)
	} else {
		copy(buf, e.Data[off:off+len(buf)])
	}

	e.Lock()
	e.Refcount--
	if e.Refcount < 0 {
		panic("cache: refcount went negative")
	}
	e.quiescent.Broadcast()
	e.Unlock()
}

// flushOnce writes back every stably-resident dirty slot, draining its
// refcount first. Flushing a clean slot is a no-op (spec §8 invariant 4).
func (c *Cache_t) flushOnce() {
	for _, e := range c.entries {
		c.mu.Lock()
		if e.Available || e.OldSec != e.NewSec || !e.Dirty {
			c.mu.Unlock()
			continue
		}
		sec := e.NewSec
		e.Lock()
		c.mu.Unlock()
		for e.Refcount != 0 {
			e.quiescent.Wait()
		}
		e.Dirty = false
		var tmp mem.Bytepg_t
		tmp = e.Data
		e.Unlock()

		c.disk.WriteSector(sec, tmp[:])
		atomic.AddUint64(&c.flushes, 1)
		if cache_debug {
			fmt.Printf("cache: flushed sector %v\n", sec)
		}
	}
}

func (c *Cache_t) flushLoop(ctx context.Context) {
	t := time.NewTicker(c.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.flushOnce()
		}
	}
}

// Close synchronously writes back every dirty slot and stops the
// background flusher. Idempotent.
func (c *Cache_t) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.eg.Wait()
	c.flushOnce()
}

// Stats returns a snapshot of cache counters.
func (c *Cache_t) Stats() Stats_t {
	return Stats_t{
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
		Flushes:   atomic.LoadUint64(&c.flushes),
	}
}
