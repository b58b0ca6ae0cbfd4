// Package kstats formats the counters the cache, frame table, and inode
// layer expose through their Stats() methods into an operator-readable
// report, in the spirit of the teacher kernel's stats package (which
// walks a counters struct by reflection) but rendered through
// golang.org/x/text/message so large counts get thousands separators
// instead of a bare itoa.
package kstats

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cache"
	"frame"
	"freemap"
	"inode"
	"swap"
)

// Report is a point-in-time snapshot of every layer's counters, taken
// together so the numbers describe the same instant.
type Report struct {
	Cache  cache.Stats_t
	Frame  frame.Stats_t
	Inode  inode.Stats_t
	SwapUsed, SwapTotal int
	FreeSectors         int
}

// Snapshot gathers a Report from the live tables. Any of frames, fs, or
// swapTab may be nil if that layer isn't wired up in the caller (a
// stand-alone cache benchmark, say); its zero value is reported.
func Snapshot(c *cache.Cache_t, frames *frame.Table_t, fs *inode.Filesystem_t, swapTab *swap.Table_t, free *freemap.Bitmap_t) Report {
	var r Report
	if c != nil {
		r.Cache = c.Stats()
	}
	if frames != nil {
		r.Frame = frames.Stats()
	}
	if fs != nil {
		r.Inode = fs.Stats()
	}
	if swapTab != nil {
		r.SwapTotal = swapTab.Nslots()
	}
	if free != nil {
		r.FreeSectors = free.Nfree()
	}
	return r
}

// String renders r as a multi-line, English-locale-formatted report.
func (r Report) String() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	fmt.Fprintln(&b, "cache:")
	p.Fprintf(&b, "\thits:      %d\n", r.Cache.Hits)
	p.Fprintf(&b, "\tmisses:    %d\n", r.Cache.Misses)
	p.Fprintf(&b, "\tevictions: %d\n", r.Cache.Evictions)
	p.Fprintf(&b, "\tflushes:   %d\n", r.Cache.Flushes)

	fmt.Fprintln(&b, "frames:")
	p.Fprintf(&b, "\tinstalls:  %d\n", r.Frame.Installs)
	p.Fprintf(&b, "\tevictions: %d\n", r.Frame.Evictions)

	fmt.Fprintln(&b, "inodes:")
	p.Fprintf(&b, "\tcreates:    %d\n", r.Inode.Creates)
	p.Fprintf(&b, "\topens:      %d\n", r.Inode.Opens)
	p.Fprintf(&b, "\tdedup hits: %d\n", r.Inode.DedupHits)
	p.Fprintf(&b, "\tlive open:  %d\n", r.Inode.OpenCount)

	fmt.Fprintln(&b, "swap:")
	p.Fprintf(&b, "\tslots: %d\n", r.SwapTotal)

	fmt.Fprintf(&b, "free sectors: ")
	p.Fprintf(&b, "%d\n", r.FreeSectors)

	return b.String()
}

// HitRate reports the cache hit ratio as a percentage, or 0 if there
// have been no accesses yet.
func (r Report) HitRate() float64 {
	total := r.Cache.Hits + r.Cache.Misses
	if total == 0 {
		return 0
	}
	return 100 * float64(r.Cache.Hits) / float64(total)
}
