package kstats

import (
	"strings"
	"testing"
	"time"

	"blockdev"
	"cache"
	"freemap"
	"inode"
	"mem"
)

func TestSnapshotAndStringIncludesCounters(t *testing.T) {
	d := blockdev.MkMemDisk(4096)
	c := cache.MkCache(d, 8, time.Hour)
	defer c.Close()
	free := freemap.MkBitmap(4096, 1)
	fs := inode.MkFilesystem(c, free)
	fs.Create(0, 0)
	ino := fs.Open(0)
	defer fs.Close(ino)

	var buf [mem.SectorSize]byte
	c.Read(1, 0, buf[:])
	c.Read(1, 0, buf[:]) // second access should be a hit

	r := Snapshot(c, nil, fs, nil, free)
	if r.Cache.Misses == 0 {
		t.Fatalf("expected at least one miss recorded")
	}
	if r.Cache.Hits == 0 {
		t.Fatalf("expected at least one hit recorded")
	}
	if r.Inode.Opens == 0 {
		t.Fatalf("expected inode opens recorded")
	}

	s := r.String()
	for _, want := range []string{"cache:", "frames:", "inodes:", "swap:", "free sectors:"} {
		if !strings.Contains(s, want) {
			t.Fatalf("report missing section %q:\n%s", want, s)
		}
	}
}

func TestHitRateZeroWithNoAccesses(t *testing.T) {
	var r Report
	if r.HitRate() != 0 {
		t.Fatalf("expected 0 hit rate with no accesses, got %v", r.HitRate())
	}
}
