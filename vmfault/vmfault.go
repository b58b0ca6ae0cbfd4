// Package vmfault is the glue layer of spec §4.5: on a page fault it
// consults the supplemental page table, obtains a frame (possibly by
// eviction), reads the page's content in, and installs the hardware
// mapping. It owns the per-process resources spec §9 design note 5
// calls for (the SPT, the mmap list, a minimal file-descriptor table)
// and is the concrete frame.Owner that closes the loop between the
// frame table and the inode layer.
package vmfault

import (
	"context"
	"sync"

	"defs"
	"frame"
	"inode"
	"mem"
	"spt"
	"swap"
	"util"
)

// MMap_t is a memory-mapping record (spec §3.6): maps a run of user
// virtual pages back to a file region, so a fault within it knows
// where to read from and an eviction knows where to write back.
type MMap_t struct {
	ID          int
	File        *inode.Inode_t
	StartVpage  uintptr
	LengthBytes int64
}

// Process_t owns one process's virtual memory resources: its
// supplemental page table, its memory mappings, and a small
// fd-to-inode table standing in for the (out-of-scope) process file
// descriptor table.
type Process_t struct {
	mu      sync.Mutex
	spt     *spt.Table_t
	mmaps   []MMap_t
	files   map[uintptr]*inode.Inode_t
	nextFd  uintptr

	frames  *frame.Table_t
	swapTab *swap.Table_t

	userMin, userMax uintptr
}

// MkProcess builds a process's virtual memory state over a shared
// frame table and swap allocator, with the user address range
// [userMin, userMax) it is permitted to fault within.
func MkProcess(frames *frame.Table_t, swapTab *swap.Table_t, userMin, userMax uintptr) *Process_t {
	return &Process_t{
		spt:     spt.MkTable(),
		files:   make(map[uintptr]*inode.Inode_t),
		frames:  frames,
		swapTab: swapTab,
		userMin: userMin,
		userMax: userMax,
	}
}

// SPT implements frame.Owner.
func (p *Process_t) SPT() *spt.Table_t {
	return p.spt
}

func (p *Process_t) fdFor(ino *inode.Inode_t) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd, f := range p.files {
		if f == ino {
			return fd
		}
	}
	p.nextFd++
	p.files[p.nextFd] = ino
	return p.nextFd
}

func (p *Process_t) fileFor(fd uintptr) *inode.Inode_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.files[fd]
}

// LookupMapping implements frame.Owner: it finds the memory-mapping
// record, if any, that vpage falls within, and describes the file
// region it backs.
func (p *Process_t) LookupMapping(vpage uintptr) (spt.FileBacking, bool) {
	p.mu.Lock()
	for _, m := range p.mmaps {
		span := uintptr(util.Roundup(m.LengthBytes, int64(mem.PGSIZE)))
		if vpage < m.StartVpage || vpage >= m.StartVpage+span {
			continue
		}
		off := int64(vpage - m.StartVpage)
		remaining := m.LengthBytes - off
		length := int64(mem.PGSIZE)
		zeroFill := false
		switch {
		case remaining <= 0:
			length = 0
			zeroFill = true
		case remaining < int64(mem.PGSIZE):
			length = remaining
		}
		p.mu.Unlock() // fdFor takes p.mu itself
		return spt.FileBacking{
			Fd:       p.fdFor(m.File),
			Ofs:      off,
			Len:      int(length),
			Writable: true,
			ZeroFill: zeroFill,
		}, true
	}
	p.mu.Unlock()
	return spt.FileBacking{}, false
}

// WriteBack implements frame.Owner: it writes a dirty file-backed page
// back through the inode layer.
func (p *Process_t) WriteBack(fb spt.FileBacking, page *mem.Bytepg_t) defs.Err_t {
	ino := p.fileFor(fb.Fd)
	if ino == nil {
		return defs.EINVAL
	}
	ino.WriteAt(page[:fb.Len], fb.Ofs)
	return 0
}

// Mmap records a new memory mapping of ino starting at startVpage and
// adds a ready File SPT entry for each page it covers, so the first
// fault on any of those pages reads it from ino.
func (p *Process_t) Mmap(id int, ino *inode.Inode_t, startVpage uintptr, lengthBytes int64) {
	p.mu.Lock()
	p.mmaps = append(p.mmaps, MMap_t{ID: id, File: ino, StartVpage: startVpage, LengthBytes: lengthBytes})
	p.mu.Unlock()

	fd := p.fdFor(ino)
	for off := int64(0); off < lengthBytes; off += int64(mem.PGSIZE) {
		n := util.Min(lengthBytes-off, int64(mem.PGSIZE))
		p.spt.AddFile(startVpage+uintptr(off), spt.FileBacking{Fd: fd, Ofs: off, Len: int(n), Writable: true}, true)
	}
}

// Munmap removes a mapping and every SPT entry it left behind.
func (p *Process_t) Munmap(id int) {
	p.mu.Lock()
	var removed *MMap_t
	for i := range p.mmaps {
		if p.mmaps[i].ID == id {
			m := p.mmaps[i]
			removed = &m
			p.mmaps = append(p.mmaps[:i], p.mmaps[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	if removed == nil {
		return
	}
	nvpages := util.Roundup(removed.LengthBytes, int64(mem.PGSIZE)) / int64(mem.PGSIZE)
	for i := int64(0); i < nvpages; i++ {
		vpage := removed.StartVpage + uintptr(i)*uintptr(mem.PGSIZE)
		p.spt.RemoveMmap(vpage)
	}
}

// Destroy tears down the process's virtual memory state, releasing
// any swap slots its SPT entries still reference.
func (p *Process_t) Destroy() {
	p.spt.Destroy(p.swapTab)
}

// Fault implements spec §4.5's page-fault handler. va is the faulting
// address, esp the user stack pointer at the time of the fault, write
// reports whether the fault was caused by a store, and pin requests
// the installed frame be pinned against eviction.
func (p *Process_t) Fault(va, esp uintptr, write, pin bool) defs.Err_t {
	if va < p.userMin || va >= p.userMax {
		return defs.EFAULT
	}
	vpage := util.Rounddown(va, uintptr(mem.PGSIZE))

	if entry, waiter, ok := p.spt.Lookup(vpage, true); ok {
		if entry.Kind == spt.KindFile && write && !entry.File.Writable {
			return defs.EFAULT
		}
		waiter.Wait(context.Background())

		fi := p.frames.Get(true)
		page := p.frames.Page(fi)
		var writable bool
		switch entry.Kind {
		case spt.KindSwap:
			p.swapTab.Read(entry.Swap, page)
			p.swapTab.Free(entry.Swap)
			writable = true
		case spt.KindFile:
			if entry.File.ZeroFill {
				for i := range page {
					page[i] = 0
				}
			} else {
				ino := p.fileFor(entry.File.Fd)
				n := ino.ReadAt(page[:entry.File.Len], entry.File.Ofs)
				for i := n; i < len(page); i++ {
					page[i] = 0
				}
			}
			writable = entry.File.Writable
		}
		p.frames.Install(fi, p, vpage, writable, pin)
		if !pin {
			p.frames.Unpin(fi)
		}
		return 0
	}

	if va >= esp || esp-va <= 32 {
		fi := p.frames.Get(true)
		page := p.frames.Page(fi)
		for i := range page {
			page[i] = 0
		}
		p.frames.Install(fi, p, vpage, true, pin)
		if !pin {
			p.frames.Unpin(fi)
		}
		return 0
	}

	return defs.EFAULT
}
