package mem

import "testing"

func TestPagepoolAllocFree(t *testing.T) {
	p := MkPagepool(4)
	var got []FrameIndex
	for i := 0; i < 4; i++ {
		fi, ok := p.Alloc()
		if !ok {
			t.Fatalf("alloc %d: pool exhausted early", i)
		}
		got = append(got, fi)
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("expected pool exhaustion after 4 allocations")
	}
	p.Free(got[1])
	fi, ok := p.Alloc()
	if !ok || fi != got[1] {
		t.Fatalf("expected freed frame %d to be reused, got %d ok=%v", got[1], fi, ok)
	}
}

func TestPagepoolDoubleFreePanics(t *testing.T) {
	p := MkPagepool(2)
	fi, _ := p.Alloc()
	p.Free(fi)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double free")
		}
	}()
	p.Free(fi)
}

func TestZero(t *testing.T) {
	p := MkPagepool(1)
	fi, _ := p.Alloc()
	pg := p.Page(fi)
	pg[0] = 0xff
	p.Zero(fi)
	for i, b := range pg {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}
