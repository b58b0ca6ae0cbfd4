// Command mkcoreimg lays out an empty FILESYS and SWAP disk image pair
// before first boot, the Go core's counterpart of the original kernel's
// mkfs-style bootstrap tooling (spec §9). The filesystem image gets a
// root inode at sector 0 written through the real cache/inode stack, so
// the layout mkcoreimg produces is exactly what Open(0) expects at
// boot; the swap image is simply zeroed, since an unused swap slot
// carries no format of its own.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"

	"blockdev"
	"cache"
	"config"
	"freemap"
	"inode"
	"mem"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mkcoreimg:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a core.jsonc config file to size the images from")
	filesysPath := pflag.String("filesys", "FILESYS", "path to write the filesystem image")
	filesysSectors := pflag.Int("filesys-sectors", 4096, "size of the filesystem image, in sectors")
	swapPath := pflag.String("swap", "SWAP", "path to write the swap image")
	swapSectors := pflag.Int("swap-sectors", 0, "size of the swap image, in sectors (0: take it from --config)")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *swapSectors == 0 {
		*swapSectors = cfg.SwapSectors
	}

	if err := makeFilesysImage(*filesysPath, *filesysSectors); err != nil {
		return fmt.Errorf("filesystem image: %w", err)
	}
	if err := makeSwapImage(*swapPath, *swapSectors); err != nil {
		return fmt.Errorf("swap image: %w", err)
	}
	return nil
}

func makeFilesysImage(path string, nsectors int) error {
	if err := atomic.WriteFile(path, io.LimitReader(zeroReader{}, int64(nsectors)*mem.SectorSize)); err != nil {
		return err
	}

	disk, err := blockdev.OpenFileDisk(path)
	if err != nil {
		return err
	}
	defer disk.Close()

	c := cache.MkCache(disk, 32, time.Hour)
	free := freemap.MkBitmap(nsectors, 1) // sector 0 reserved for the root inode
	fs := inode.MkFilesystem(c, free)
	if rc := fs.Create(0, 0); rc != 0 {
		c.Close()
		return fmt.Errorf("creating root inode: %v", rc)
	}
	c.Close()
	return nil
}

func makeSwapImage(path string, nsectors int) error {
	return atomic.WriteFile(path, io.LimitReader(zeroReader{}, int64(nsectors)*mem.SectorSize))
}

// zeroReader is an infinite stream of zero bytes, fed through
// io.LimitReader to produce a zeroed image of exact size without
// materializing it in memory.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
