package swap

import (
	"testing"

	"blockdev"
	"mem"
)

func TestGetFreeReuse(t *testing.T) {
	d := blockdev.MkMemDisk(mem.SectorsPerPage * 2)
	tab := MkTable(d)
	if tab.Nslots() != 2 {
		t.Fatalf("nslots = %d, want 2", tab.Nslots())
	}

	s0, ok := tab.Get()
	if !ok {
		t.Fatalf("expected slot")
	}
	s1, ok := tab.Get()
	if !ok {
		t.Fatalf("expected slot")
	}
	if s0 == s1 {
		t.Fatalf("expected distinct slots")
	}
	if _, ok := tab.Get(); ok {
		t.Fatalf("expected exhaustion")
	}

	tab.Free(s0)
	s2, ok := tab.Get()
	if !ok || s2 != s0 {
		t.Fatalf("expected to reuse freed slot %d, got %d ok=%v", s0, s2, ok)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	d := blockdev.MkMemDisk(mem.SectorsPerPage)
	tab := MkTable(d)
	s, _ := tab.Get()
	tab.Free(s)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double free")
		}
	}()
	tab.Free(s)
}

func TestReadWriteRoundTrip(t *testing.T) {
	d := blockdev.MkMemDisk(mem.SectorsPerPage * 2)
	tab := MkTable(d)
	si, _ := tab.Get()

	var page mem.Bytepg_t
	for i := range page {
		page[i] = byte(i)
	}
	tab.Write(si, &page)

	var out mem.Bytepg_t
	tab.Read(si, &out)
	if out != page {
		t.Fatalf("round trip mismatch")
	}
}

func TestWriteDoesNotTouchOtherSlot(t *testing.T) {
	d := blockdev.MkMemDisk(mem.SectorsPerPage * 2)
	tab := MkTable(d)
	s0, _ := tab.Get()
	s1, _ := tab.Get()

	var a mem.Bytepg_t
	for i := range a {
		a[i] = 0xaa
	}
	tab.Write(s0, &a)

	var b mem.Bytepg_t
	tab.Read(s1, &b)
	for _, c := range b {
		if c != 0 {
			t.Fatalf("slot %d contaminated by write to slot %d", s1, s0)
		}
	}
}
