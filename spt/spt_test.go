package spt

import (
	"context"
	"testing"
	"time"

	"mem"
	"swap"
	"blockdev"
)

func TestAddSwapReadyLookupRemoves(t *testing.T) {
	tab := MkTable()
	tab.AddSwap(0x1000, 3, true)

	e, w, ok := tab.Lookup(0x1000, true)
	if !ok || e.Kind != KindSwap || e.Swap != 3 {
		t.Fatalf("got %+v ok=%v", e, ok)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Wait(ctx) // must not block: ready=true

	if _, _, ok := tab.Lookup(0x1000, false); ok {
		t.Fatalf("expected entry to be gone after removing lookup")
	}
}

func TestNotReadyBlocksUntilMarkReady(t *testing.T) {
	tab := MkTable()
	tab.AddSwap(0x2000, 7, false)

	_, w, ok := tab.Lookup(0x2000, true)
	if !ok {
		t.Fatalf("expected entry")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.Wait(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("wait returned before MarkReady")
	case <-time.After(50 * time.Millisecond):
	}

	tab.MarkReady(0x2000)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("wait never returned after MarkReady")
	}
}

func TestDestroyFreesSwapSlots(t *testing.T) {
	d := blockdev.MkMemDisk(mem.SectorsPerPage * 2)
	swapTab := swap.MkTable(d)
	si, _ := swapTab.Get()

	tab := MkTable()
	tab.AddSwap(0x3000, si, true)
	tab.Destroy(swapTab)

	if tab.Len() != 0 {
		t.Fatalf("expected empty table after destroy")
	}
	si2, ok := swapTab.Get()
	if !ok || si2 != si {
		t.Fatalf("expected freed slot %d to be available again, got %d ok=%v", si, si2, ok)
	}
}

func TestRemoveMmap(t *testing.T) {
	tab := MkTable()
	tab.AddFile(0x4000, FileBacking{Fd: 1, Ofs: 0, Len: 512}, true)
	e, ok := tab.RemoveMmap(0x4000)
	if !ok || e.Kind != KindFile {
		t.Fatalf("got %+v ok=%v", e, ok)
	}
	if _, _, ok := tab.Lookup(0x4000, false); ok {
		t.Fatalf("expected entry removed")
	}
}
