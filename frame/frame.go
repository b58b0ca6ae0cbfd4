// Package frame implements the physical frame table and clock
// eviction policy of spec §4.3. Hardware specifics (the accessed and
// dirty bits, and installing/clearing a page-table entry) are
// abstracted behind the HardwareMap interface rather than coded
// against a particular page-table format, per spec §9 design note 2.
package frame

import (
	"fmt"
	"sync"
	"sync/atomic"

	"defs"
	"mem"
	"spt"
	"swap"
)

// frame_debug gates the eviction trace print below, in the style of the
// teacher kernel's bdev_debug switch.
var frame_debug = false

// Owner is the process-level collaborator the frame table calls back
// into during eviction: it owns the supplemental page table an
// evicted mapping is recorded in, and knows how to look up and write
// back a file-backed mapping. vmfault wires the real implementation;
// frame itself never touches a file.
type Owner interface {
	SPT() *spt.Table_t
	LookupMapping(vpage uintptr) (spt.FileBacking, bool)
	WriteBack(fb spt.FileBacking, page *mem.Bytepg_t) defs.Err_t
}

// HardwareMap abstracts the page-table operations the clock policy
// and frame installer need: reading/clearing the accessed bit, reading
// the dirty bit, installing a mapping, and clearing one so a future
// access traps.
type HardwareMap interface {
	Install(owner Owner, vpage uintptr, fi mem.FrameIndex, writable bool)
	Clear(owner Owner, vpage uintptr)
	GetAccessed(owner Owner, vpage uintptr) bool
	ClearAccessed(owner Owner, vpage uintptr)
	GetDirty(owner Owner, vpage uintptr) bool
}

type entry struct {
	present   bool
	pinned    bool
	owner     Owner
	userVpage uintptr
}

// Table_t is the physical frame table.
type Table_t struct {
	mu      sync.Mutex // the frame lock
	pool    *mem.Pagepool_t
	entries []entry
	hw      HardwareMap
	swapTab *swap.Table_t
	hand    int

	installs  uint64
	evictions uint64
}

// Stats_t is a point-in-time snapshot of frame table counters.
type Stats_t struct {
	Installs  uint64
	Evictions uint64
}

// Stats reports the current counters.
func (t *Table_t) Stats() Stats_t {
	return Stats_t{
		Installs:  atomic.LoadUint64(&t.installs),
		Evictions: atomic.LoadUint64(&t.evictions),
	}
}

// MkTable builds a frame table over npages physical frames.
func MkTable(npages int, hw HardwareMap, swapTab *swap.Table_t) *Table_t {
	return &Table_t{
		pool:    mem.MkPagepool(npages),
		entries: make([]entry, npages),
		hw:      hw,
		swapTab: swapTab,
	}
}

// Nframes reports init_ram_pages, the frame table's size.
func (t *Table_t) Nframes() int {
	return t.pool.Len()
}

// Page returns the physical buffer backing fi.
func (t *Table_t) Page(fi mem.FrameIndex) *mem.Bytepg_t {
	return t.pool.Page(fi)
}

// Get obtains a free frame, evicting one if necessary, and marks it
// present with the requested pin state. The frame is otherwise blank;
// the caller installs ownership via Install.
func (t *Table_t) Get(pin bool) mem.FrameIndex {
	t.mu.Lock()
	if fi, ok := t.pool.Alloc(); ok {
		t.entries[fi] = entry{present: true, pinned: pin}
		t.mu.Unlock()
		return fi
	}
	t.mu.Unlock()

	fi := t.evictOne()

	t.mu.Lock()
	t.entries[fi] = entry{present: true, pinned: pin}
	t.mu.Unlock()
	return fi
}

// evictOne runs the clock sweep of spec §4.3 and returns a frame index
// that has been fully written out and detached from its prior owner.
func (t *Table_t) evictOne() mem.FrameIndex {
	t.mu.Lock()
	n := len(t.entries)
	victim := mem.InvalidFrame
	for victim == mem.InvalidFrame {
		i := t.hand
		t.hand = (t.hand + 1) % n
		e := &t.entries[i]
		if !e.present || e.pinned {
			continue
		}
		if t.hw.GetAccessed(e.owner, e.userVpage) {
			t.hw.ClearAccessed(e.owner, e.userVpage)
			continue
		}
		victim = mem.FrameIndex(i)
	}

	ve := &t.entries[victim]
	owner := ve.owner
	vpage := ve.userVpage
	ve.present = false
	t.hw.Clear(owner, vpage)

	fb, isFile := owner.LookupMapping(vpage)
	var si mem.SwapIndex = mem.InvalidSwap
	if !isFile {
		var ok bool
		si, ok = t.swapTab.Get()
		if !ok {
			panic("frame: swap exhausted during eviction")
		}
		owner.SPT().AddSwap(vpage, si, false)
	} else {
		owner.SPT().AddFile(vpage, fb, false)
	}
	dirty := t.hw.GetDirty(owner, vpage)
	t.mu.Unlock()

	page := t.pool.Page(victim)
	if isFile {
		if dirty {
			if rc := owner.WriteBack(fb, page); rc != 0 {
				panic(fmt.Sprintf("frame: write-back failed: %v", rc))
			}
		}
	} else {
		t.swapTab.Write(si, page)
	}
	owner.SPT().MarkReady(vpage)
	atomic.AddUint64(&t.evictions, 1)
	if frame_debug {
		fmt.Printf("frame: evicted vpage %#x, isFile=%v dirty=%v\n", vpage, isFile, dirty)
	}

	return victim
}

// Install records ownership of an already-obtained frame and programs
// the hardware mapping.
func (t *Table_t) Install(fi mem.FrameIndex, owner Owner, vpage uintptr, writable, pinned bool) {
	t.mu.Lock()
	t.entries[fi] = entry{present: true, pinned: pinned, owner: owner, userVpage: vpage}
	t.mu.Unlock()
	t.hw.Install(owner, vpage, fi, writable)
	atomic.AddUint64(&t.installs, 1)
}

// Pin marks a frame pinned, excluding it from eviction.
func (t *Table_t) Pin(fi mem.FrameIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fi].pinned = true
}

// Unpin clears the pin bit. A no-op besides the bit, per spec §4.3.
func (t *Table_t) Unpin(fi mem.FrameIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fi].pinned = false
}

// Lookup finds the frame currently mapping (owner, vpage), if any.
// Mainly useful to tests and diagnostic tooling; ordinary fault
// handling tracks frame indices itself via Get's return value.
func (t *Table_t) Lookup(owner Owner, vpage uintptr) (mem.FrameIndex, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.present && e.owner == owner && e.userVpage == vpage {
			return mem.FrameIndex(i), true
		}
	}
	return mem.InvalidFrame, false
}

// Free returns a frame to the pool, clearing its entry.
func (t *Table_t) Free(fi mem.FrameIndex) {
	t.mu.Lock()
	t.entries[fi] = entry{}
	t.mu.Unlock()
	t.pool.Free(fi)
}
