package inode

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"blockdev"
	"cache"
	"freemap"
	"mem"
)

func mkTestFs(t *testing.T, nsectors int) *Filesystem_t {
	t.Helper()
	d := blockdev.MkMemDisk(nsectors)
	c := cache.MkCache(d, 32, time.Hour)
	t.Cleanup(c.Close)
	free := freemap.MkBitmap(nsectors, 1) // sector 0 reserved for the inode itself
	return MkFilesystem(c, free)
}

func TestCreateOpenRoundTrip(t *testing.T) {
	fs := mkTestFs(t, 4096)
	if rc := fs.Create(0, 0); rc != 0 {
		t.Fatalf("create failed: %v", rc)
	}
	ino := fs.Open(0)

	data := bytes.Repeat([]byte{0x5a}, 200)
	if n := ino.WriteAt(data, 100); n != len(data) {
		t.Fatalf("wrote %d, want %d", n, len(data))
	}
	if ino.Length() != 300 {
		t.Fatalf("length = %d, want 300", ino.Length())
	}

	out := make([]byte, len(data))
	if n := ino.ReadAt(out, 100); n != len(out) {
		t.Fatalf("read %d, want %d", n, len(out))
	}
	if diff := cmp.Diff(data, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	fs.Close(ino)
}

func TestOpenDeduplicates(t *testing.T) {
	fs := mkTestFs(t, 4096)
	fs.Create(0, 0)
	a := fs.Open(0)
	b := fs.Open(0)
	if a != b {
		t.Fatalf("expected Open to return the same in-memory inode")
	}
	fs.Close(a)
	fs.Close(b)
}

func TestGrowthPastDirectRegion(t *testing.T) {
	fs := mkTestFs(t, 8192)
	fs.Create(0, 0)
	ino := fs.Open(0)
	defer fs.Close(ino)

	buf := bytes.Repeat([]byte("X"), mem.SectorSize)
	off := int64(indirectBase) * mem.SectorSize
	if n := ino.WriteAt(buf, off); n != len(buf) {
		t.Fatalf("wrote %d, want %d", n, len(buf))
	}

	ino.mu.Lock()
	firstIndirect := ino.disk.firstIndirect
	ino.mu.Unlock()
	if firstIndirect == 0 {
		t.Fatalf("expected first_indirect to be allocated")
	}

	out := make([]byte, mem.SectorSize)
	ino.ReadAt(out, off)
	if !bytes.Equal(out, buf) {
		t.Fatalf("read back mismatch past direct region")
	}
	wantLen := off + int64(mem.SectorSize)
	if ino.Length() != wantLen {
		t.Fatalf("length = %d, want %d", ino.Length(), wantLen)
	}
}

func TestGrowThenReadReturnsZeroes(t *testing.T) {
	fs := mkTestFs(t, 4096)
	fs.Create(0, 0)
	ino := fs.Open(0)
	defer fs.Close(ino)

	ino.WriteAt([]byte{1}, 5*mem.SectorSize)

	out := make([]byte, mem.SectorSize)
	ino.ReadAt(out, 2*mem.SectorSize)
	for _, b := range out {
		if b != 0 {
			t.Fatalf("expected zeroed previously-untouched sector, got %x", b)
		}
	}
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	fs := mkTestFs(t, 4096)
	fs.Create(0, 0)
	ino := fs.Open(0)
	defer fs.Close(ino)

	ino.DenyWrite()
	if n := ino.WriteAt([]byte{1, 2, 3}, 0); n != 0 {
		t.Fatalf("expected write to be denied, got %d bytes", n)
	}
	ino.AllowWrite()
	if n := ino.WriteAt([]byte{1, 2, 3}, 0); n != 3 {
		t.Fatalf("expected write to succeed after AllowWrite, got %d", n)
	}
}

func TestRemoveFreesBlocksOnLastClose(t *testing.T) {
	fs := mkTestFs(t, 4096)
	fs.Create(0, 0)
	ino := fs.Open(0)
	ino.WriteAt(bytes.Repeat([]byte{1}, mem.SectorSize*3), 0)

	before := fs.free.Nfree()
	ino.Remove()
	fs.Close(ino)
	after := fs.free.Nfree()
	if after <= before {
		t.Fatalf("expected freed sectors after closing a removed inode: before=%d after=%d", before, after)
	}
}
