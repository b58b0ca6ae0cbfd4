// Command kdb is an interactive inspector for a storage-core disk image
// pair, the promoted, first-class counterpart of the original kernel's
// printf-based debug switches (spec §9). It opens a FILESYS (and
// optionally SWAP) image read-write, though no command writes to it,
// builds the cache and inode stack over it (no frame table is
// attached, so `show frames` reports none), and lets an operator poke
// at it from a
// line-edited REPL: `show cache`, `show frames`, `show swap`, `show
// stats`, `stat <sector>`, `quit`.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"blockdev"
	"cache"
	"frame"
	"freemap"
	"inode"
	"kstats"
	"mem"
	"swap"
)

type session struct {
	disk    *blockdev.FileDisk
	cache   *cache.Cache_t
	free    *freemap.Bitmap_t
	fs      *inode.Filesystem_t
	swapTab *swap.Table_t
	frames  *frame.Table_t
}

func main() {
	filesysPath := pflag.String("filesys", "FILESYS", "path to the filesystem image")
	swapPath := pflag.String("swap", "", "path to a swap image, if inspecting swap usage")
	cacheSlots := pflag.Int("cache-slots", 64, "cache slot count")
	pflag.Parse()

	s, err := open(*filesysPath, *swapPath, *cacheSlots)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kdb:", err)
		os.Exit(1)
	}
	defer s.close()

	runREPL(s)
}

func open(filesysPath, swapPath string, cacheSlots int) (*session, error) {
	disk, err := blockdev.OpenFileDisk(filesysPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filesysPath, err)
	}

	c := cache.MkCache(disk, cacheSlots, time.Hour)
	free := freemap.MkBitmap(disk.Nsectors(), 1)
	fs := inode.MkFilesystem(c, free)

	s := &session{disk: disk, cache: c, free: free, fs: fs}

	if swapPath != "" {
		swapDisk, err := blockdev.OpenFileDisk(swapPath)
		if err != nil {
			c.Close()
			disk.Close()
			return nil, fmt.Errorf("opening %s: %w", swapPath, err)
		}
		s.swapTab = swap.MkTable(swapDisk)
	}

	return s, nil
}

func (s *session) close() {
	s.cache.Close()
	s.disk.Close()
}

func runREPL(s *session) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("kdb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return
			}
			fmt.Fprintln(os.Stderr, "kdb:", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !dispatch(s, input) {
			return
		}
	}
}

// dispatch runs one command line, returning false to end the REPL.
func dispatch(s *session, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "quit", "exit":
		return false
	case "show":
		if len(fields) < 2 {
			fmt.Println("usage: show cache|frames|swap|stats")
			return true
		}
		showCommand(s, fields[1])
	case "stat":
		if len(fields) < 2 {
			fmt.Println("usage: stat <sector>")
			return true
		}
		statCommand(s, fields[1])
	default:
		fmt.Printf("unknown command %q (try show, stat, quit)\n", fields[0])
	}
	return true
}

func showCommand(s *session, what string) {
	switch what {
	case "cache":
		st := s.cache.Stats()
		fmt.Printf("hits=%d misses=%d evictions=%d flushes=%d\n", st.Hits, st.Misses, st.Evictions, st.Flushes)
	case "frames":
		if s.frames == nil {
			fmt.Println("no frame table attached to this session")
			return
		}
		st := s.frames.Stats()
		fmt.Printf("installs=%d evictions=%d\n", st.Installs, st.Evictions)
	case "swap":
		if s.swapTab == nil {
			fmt.Println("no swap image opened (pass --swap)")
			return
		}
		fmt.Printf("slots=%d\n", s.swapTab.Nslots())
	case "stats":
		r := kstats.Snapshot(s.cache, s.frames, s.fs, s.swapTab, s.free)
		fmt.Print(r.String())
	default:
		fmt.Printf("unknown show target %q\n", what)
	}
}

func statCommand(s *session, secStr string) {
	n, err := strconv.Atoi(secStr)
	if err != nil {
		fmt.Println("stat: not a sector number:", secStr)
		return
	}
	var buf [mem.SectorSize]byte
	s.cache.Read(mem.Sector(n), 0, buf[:])
	fmt.Printf("sector %d, first 32 bytes: % x\n", n, buf[:32])
}
