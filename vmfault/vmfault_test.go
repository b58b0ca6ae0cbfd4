package vmfault

import (
	"sync"
	"testing"
	"time"

	"blockdev"
	"cache"
	"defs"
	"freemap"
	"frame"
	"inode"
	"mem"
	"swap"
)

// fakeHW is a minimal frame.HardwareMap recording installs/clears,
// with no real page-table backing: tests drive the accessed/dirty
// bits directly.
type fakeHW struct {
	mu       sync.Mutex
	accessed map[uintptr]bool
	dirty    map[uintptr]bool
	installs map[uintptr]bool
}

func newFakeHW() *fakeHW {
	return &fakeHW{
		accessed: map[uintptr]bool{},
		dirty:    map[uintptr]bool{},
		installs: map[uintptr]bool{},
	}
}

func (h *fakeHW) Install(owner frame.Owner, vpage uintptr, fi mem.FrameIndex, writable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installs[vpage] = true
}
func (h *fakeHW) Clear(owner frame.Owner, vpage uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installs[vpage] = false
}
func (h *fakeHW) GetAccessed(owner frame.Owner, vpage uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accessed[vpage]
}
func (h *fakeHW) ClearAccessed(owner frame.Owner, vpage uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessed[vpage] = false
}
func (h *fakeHW) GetDirty(owner frame.Owner, vpage uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty[vpage]
}

func mkProcess(t *testing.T, nframes int) (*Process_t, *frame.Table_t, *fakeHW) {
	t.Helper()
	hw := newFakeHW()
	d := blockdev.MkMemDisk(mem.SectorsPerPage * 8)
	swapTab := swap.MkTable(d)
	frames := frame.MkTable(nframes, hw, swapTab)
	p := MkProcess(frames, swapTab, 0x10000000, 0x30000000)
	return p, frames, hw
}

func TestStackGrowthExactlyAtBoundary(t *testing.T) {
	p, _, _ := mkProcess(t, 4)
	esp := uintptr(0x20000000)
	va := uintptr(0x1FFFFFE0) // exactly 32 below esp
	if rc := p.Fault(va, esp, true, false); rc != 0 {
		t.Fatalf("expected stack growth to succeed, got %v", rc)
	}
}

func TestStackGrowthOneByteTooFar(t *testing.T) {
	p, _, _ := mkProcess(t, 4)
	esp := uintptr(0x20000000)
	va := uintptr(0x1FFFFFDF) // 33 below esp
	if rc := p.Fault(va, esp, true, false); rc != defs.EFAULT {
		t.Fatalf("expected fault to be illegal, got %v", rc)
	}
}

func TestFaultOutsideUserRangeFails(t *testing.T) {
	p, _, _ := mkProcess(t, 4)
	if rc := p.Fault(0, 0x20000000, false, false); rc != defs.EFAULT {
		t.Fatalf("expected out-of-range fault to fail, got %v", rc)
	}
}

func TestEvictionThenRefaultPreservesContent(t *testing.T) {
	p, frames, hw := mkProcess(t, 1)

	v0 := uintptr(0x10000000)
	v1 := uintptr(0x10001000)
	esp := v0 // at or below both pages, so each first touch is legal stack growth

	if rc := p.Fault(v0, esp, false, false); rc != 0 {
		t.Fatalf("first fault: %v", rc)
	}
	fi0, ok := frames.Lookup(p, v0)
	if !ok {
		t.Fatalf("expected frame installed for v0")
	}
	page0 := frames.Page(fi0)
	for i := range page0 {
		page0[i] = 0x42
	}
	hw.dirty[v0] = true

	// Touching v1 with only one frame forces v0 to be evicted to swap.
	if rc := p.Fault(v1, esp, false, false); rc != 0 {
		t.Fatalf("second fault: %v", rc)
	}

	// Re-fault v0; it must come back from swap with identical content.
	if rc := p.Fault(v0, esp, false, false); rc != 0 {
		t.Fatalf("re-fault: %v", rc)
	}
	fi0b, ok := frames.Lookup(p, v0)
	if !ok {
		t.Fatalf("expected frame re-installed for v0 after re-fault")
	}
	page0b := frames.Page(fi0b)
	for i, b := range page0b {
		if b != 0x42 {
			t.Fatalf("byte %d lost across eviction: got %x", i, b)
		}
	}
}

func TestFileBackedMmapFault(t *testing.T) {
	p, _, _ := mkProcess(t, 4)

	disk := blockdev.MkMemDisk(4096)
	c := cache.MkCache(disk, 16, time.Hour)
	defer c.Close()
	free := freemap.MkBitmap(4096, 1)
	fs := inode.MkFilesystem(c, free)
	fs.Create(0, 0)
	ino := fs.Open(0)
	defer fs.Close(ino)

	content := make([]byte, mem.PGSIZE)
	for i := range content {
		content[i] = byte(i)
	}
	ino.WriteAt(content, 0)

	vpage := uintptr(0x10002000)
	p.Mmap(1, ino, vpage, int64(mem.PGSIZE))

	if rc := p.Fault(vpage, 0x1FFFF000, false, false); rc != 0 {
		t.Fatalf("mmap fault: %v", rc)
	}
}
