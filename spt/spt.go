// Package spt implements the per-process supplemental page table of
// spec §4.4: a map from user virtual page to the information needed to
// bring it back into a frame, tagged by backing kind rather than by a
// boolean-plus-sentinel pair, per the teacher's own preference for
// tagged variants over packed flags (spec §9 design note 4).
package spt

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"mem"
	"swap"
)

// Kind tags an Entry_t's backing.
type Kind int

const (
	// KindSwap entries back onto a swap slot.
	KindSwap Kind = iota
	// KindFile entries back onto a region of an open file.
	KindFile
)

// FileBacking describes a file-backed page. Fd is an opaque handle
// interpreted by whatever layer installs and services the fault (the
// inode/file-descriptor table); the supplemental page table itself
// never dereferences it.
type FileBacking struct {
	Fd       uintptr
	Ofs      int64
	Len      int
	Writable bool
	ZeroFill bool
}

// Entry_t is one supplemental page table entry.
type Entry_t struct {
	Kind Kind
	Swap mem.SwapIndex
	File FileBacking
}

type slot struct {
	entry Entry_t
	ready *semaphore.Weighted
}

func newSlot(entry Entry_t, ready bool) *slot {
	s := &slot{entry: entry, ready: semaphore.NewWeighted(1)}
	if !ready {
		if err := s.ready.Acquire(context.Background(), 1); err != nil {
			panic(fmt.Sprintf("spt: acquiring a fresh semaphore cannot fail: %v", err))
		}
	}
	return s
}

// Table_t is one process's supplemental page table.
type Table_t struct {
	mu      sync.Mutex
	entries map[uintptr]*slot
}

// MkTable builds an empty supplemental page table.
func MkTable() *Table_t {
	return &Table_t{entries: make(map[uintptr]*slot)}
}

// AddSwap inserts a Swap entry for vpage. ready=false is used by the
// frame evictor, which must still perform the write-out; ready=true is
// used by the rare path that never had the page resident.
func (t *Table_t) AddSwap(vpage uintptr, si mem.SwapIndex, ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[vpage] = newSlot(Entry_t{Kind: KindSwap, Swap: si}, ready)
}

// AddFile inserts a File entry for vpage.
func (t *Table_t) AddFile(vpage uintptr, fb FileBacking, ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[vpage] = newSlot(Entry_t{Kind: KindFile, File: fb}, ready)
}

// MarkReady signals that an entry inserted not-ready has finished its
// write-out and may now be faulted in.
func (t *Table_t) MarkReady(vpage uintptr) {
	t.mu.Lock()
	s, ok := t.entries[vpage]
	t.mu.Unlock()
	if !ok {
		return
	}
	s.ready.Release(1)
}

// Waiter lets a caller block until an entry returned by Lookup is
// ready, even after the entry has been removed from the table.
type Waiter struct {
	sem *semaphore.Weighted
}

// Wait blocks until the entry is ready.
func (w Waiter) Wait(ctx context.Context) {
	if w.sem == nil {
		return
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		panic(fmt.Sprintf("spt: waiting on an unbounded context cannot fail: %v", err))
	}
}

// Lookup finds the entry for vpage. If remove is true the entry is
// removed atomically with the lookup, per spec §4.5 step 2: the caller
// is then responsible for waiting on the returned Waiter before
// touching the backing store.
func (t *Table_t) Lookup(vpage uintptr, remove bool) (Entry_t, Waiter, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[vpage]
	if !ok {
		return Entry_t{}, Waiter{}, false
	}
	if remove {
		delete(t.entries, vpage)
	}
	return s.entry, Waiter{sem: s.ready}, true
}

// RemoveMmap unconditionally removes the entry for vpage, for mmap
// teardown. It returns the removed entry, if any.
func (t *Table_t) RemoveMmap(vpage uintptr) (Entry_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[vpage]
	if !ok {
		return Entry_t{}, false
	}
	delete(t.entries, vpage)
	return s.entry, true
}

// Destroy frees every entry, releasing any swap slots they reference,
// and empties the table.
func (t *Table_t) Destroy(swapTab *swap.Table_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for vpage, s := range t.entries {
		if s.entry.Kind == KindSwap {
			swapTab.Free(s.entry.Swap)
		}
		delete(t.entries, vpage)
	}
}

// Len reports the number of live entries.
func (t *Table_t) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
