package blockdev

import (
	"os"
	"testing"

	"mem"
)

func TestMemDiskRoundTrip(t *testing.T) {
	d := MkMemDisk(4)
	buf := make([]byte, mem.SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	d.WriteSector(2, buf)
	out := make([]byte, mem.SectorSize)
	d.ReadSector(2, out)
	for i := range buf {
		if out[i] != buf[i] {
			t.Fatalf("byte %d: got %x want %x", i, out[i], buf[i])
		}
	}
}

func TestMemDiskOutOfRangePanics(t *testing.T) {
	d := MkMemDisk(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic reading out-of-range sector")
		}
	}()
	d.ReadSector(5, make([]byte, mem.SectorSize))
}

func TestFileDiskRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "disk")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(int64(4 * mem.SectorSize)); err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	d, err := OpenFileDisk(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	buf := make([]byte, mem.SectorSize)
	buf[0] = 0x42
	d.WriteSector(1, buf)
	out := make([]byte, mem.SectorSize)
	d.ReadSector(1, out)
	if out[0] != 0x42 {
		t.Fatalf("got %x want 0x42", out[0])
	}
	if d.Nsectors() != 4 {
		t.Fatalf("nsectors = %d, want 4", d.Nsectors())
	}
}
