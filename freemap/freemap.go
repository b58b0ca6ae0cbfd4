// Package freemap is the inode layer's free-sector allocator: a
// bitmap over a filesystem device's sector space, grounded on the
// original Pintos free-map's allocate/release contract (filesys/inode.c's
// calls to free_map_allocate_mul and free_map_release).
package freemap

import (
	"fmt"
	"sync"

	"mem"
)

// Bitmap_t tracks, per sector, whether it is currently allocated.
type Bitmap_t struct {
	mu   sync.Mutex
	used []bool
}

// MkBitmap builds an allocator over nsectors sectors, with sectors
// [0, reserved) pre-marked used (the inode table, boot sectors, or
// anything else outside the free map's ownership).
func MkBitmap(nsectors, reserved int) *Bitmap_t {
	b := &Bitmap_t{used: make([]bool, nsectors)}
	for i := 0; i < reserved && i < nsectors; i++ {
		b.used[i] = true
	}
	return b
}

// Allocate reserves up to n sectors and returns however many were
// actually free. A result shorter than n means the device has no more
// space; callers implement the contiguous-best-effort retry described
// in spec §4.6 by calling Allocate again against the next index tier.
func (b *Bitmap_t) Allocate(n int) []mem.Sector {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []mem.Sector
	for i := range b.used {
		if len(out) == n {
			break
		}
		if !b.used[i] {
			b.used[i] = true
			out = append(out, mem.Sector(i))
		}
	}
	return out
}

// Release frees sec for reuse.
func (b *Bitmap_t) Release(sec mem.Sector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(sec) < 0 || int(sec) >= len(b.used) {
		panic(fmt.Sprintf("freemap: sector %d out of range", sec))
	}
	if !b.used[sec] {
		panic(fmt.Sprintf("freemap: double release of sector %d", sec))
	}
	b.used[sec] = false
}

// Nfree reports the number of currently free sectors.
func (b *Bitmap_t) Nfree() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, u := range b.used {
		if !u {
			n++
		}
	}
	return n
}
