// Package swap implements the fixed-size swap slot allocator of spec
// §4.2: a bitmap of page-sized slots over the SWAP block device,
// addressed directly (no buffer cache involved) since eviction and
// fault-in I/O through swap is already off any latency-sensitive path
// guarded by a lock. It is grounded on the original Pintos
// vm/swap.c (swap_init/swap_get/swap_free/swap_read/swap_write).
package swap

import (
	"fmt"
	"sync"

	"blockdev"
	"mem"
)

// swap_debug gates the exhaustion trace print below, in the style of
// the teacher kernel's bdev_debug switch.
var swap_debug = false

// Table_t is the swap slot allocator over a single SWAP-role disk.
type Table_t struct {
	mu        sync.Mutex
	disk      blockdev.Disk
	available []bool
}

// MkTable builds a swap allocator over disk, carving it into
// mem.SectorsPerPage-sector slots. Any trailing partial slot is
// unusable and ignored, matching the original's integer-division
// sizing.
func MkTable(disk blockdev.Disk) *Table_t {
	n := disk.Nsectors() / mem.SectorsPerPage
	t := &Table_t{
		disk:      disk,
		available: make([]bool, n),
	}
	for i := range t.available {
		t.available[i] = true
	}
	return t
}

// Nslots reports the total slot count.
func (t *Table_t) Nslots() int {
	return len(t.available)
}

// Get reserves and returns a free slot. The second return value is
// false if swap is exhausted.
func (t *Table_t) Get() (mem.SwapIndex, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, free := range t.available {
		if free {
			t.available[i] = false
			return mem.SwapIndex(i), true
		}
	}
	if swap_debug {
		fmt.Printf("swap: exhausted, %d slots all in use\n", len(t.available))
	}
	return mem.InvalidSwap, false
}

// Free releases a slot previously returned by Get.
func (t *Table_t) Free(si mem.SwapIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkRange(si)
	if t.available[si] {
		panic(fmt.Sprintf("swap: double free of slot %d", si))
	}
	t.available[si] = true
}

func (t *Table_t) checkRange(si mem.SwapIndex) {
	if si < 0 || int(si) >= len(t.available) {
		panic(fmt.Sprintf("swap: slot %d out of range (%d slots)", si, len(t.available)))
	}
}

func (t *Table_t) baseSector(si mem.SwapIndex) mem.Sector {
	return mem.Sector(int(si) * mem.SectorsPerPage)
}

// Read copies the page-sized contents of slot si into page.
func (t *Table_t) Read(si mem.SwapIndex, page *mem.Bytepg_t) {
	t.checkRange(si)
	base := t.baseSector(si)
	for i := 0; i < mem.SectorsPerPage; i++ {
		t.disk.ReadSector(base+mem.Sector(i), page[i*mem.SectorSize:(i+1)*mem.SectorSize])
	}
}

// Write copies page into slot si.
func (t *Table_t) Write(si mem.SwapIndex, page *mem.Bytepg_t) {
	t.checkRange(si)
	base := t.baseSector(si)
	for i := 0; i < mem.SectorsPerPage; i++ {
		t.disk.WriteSector(base+mem.Sector(i), page[i*mem.SectorSize:(i+1)*mem.SectorSize])
	}
}
