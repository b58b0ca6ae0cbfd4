// Package config loads the boot-time tunables of the storage and memory
// core (cache slot count, flush interval, swap device size, and frame
// pool size) from a human-editable JSONC file, tolerant of comments and
// trailing commas the way an operator's hand-edited config tends to
// accumulate. Parsing follows the same hujson-then-encoding/json
// two-step used elsewhere in the ecosystem for this: standardize first,
// unmarshal second.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config collects the boot-time parameters spec.md names: S (sector
// size, fixed by the block device and only present here so operators
// can confirm it matches their image), C (cache slot count), T (flush
// interval), the swap device's sector count, and init_ram_pages (the
// frame pool size).
type Config struct {
	SectorSize      int    `json:"sector_size"`
	CacheSlots      int    `json:"cache_slots"`
	FlushIntervalMS int    `json:"flush_interval_ms"`
	SwapSectors     int    `json:"swap_sectors"`
	InitRamPages    int    `json:"init_ram_pages"`
}

// Default returns the out-of-the-box configuration, used when no config
// file is present and as the base every loaded file overlays onto.
func Default() Config {
	return Config{
		SectorSize:      512,
		CacheSlots:      64,
		FlushIntervalMS: 30000,
		SwapSectors:     8192,
		InitRamPages:    256,
	}
}

// Load reads a JSONC config file at path, overlaying it onto Default().
// A missing file is not an error; it simply yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s is not valid JSONC: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects a configuration that would make the layers above it
// misbehave: a non-positive slot count wedges the cache, a sector size
// that disagrees with mem.SectorSize corrupts every on-disk layout
// computation.
func (c Config) Validate() error {
	if c.SectorSize != 512 {
		return fmt.Errorf("sector_size %d unsupported, core is built for 512", c.SectorSize)
	}
	if c.CacheSlots <= 0 {
		return fmt.Errorf("cache_slots must be positive, got %d", c.CacheSlots)
	}
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("flush_interval_ms must be positive, got %d", c.FlushIntervalMS)
	}
	if c.SwapSectors <= 0 {
		return fmt.Errorf("swap_sectors must be positive, got %d", c.SwapSectors)
	}
	if c.InitRamPages <= 0 {
		return fmt.Errorf("init_ram_pages must be positive, got %d", c.InitRamPages)
	}
	return nil
}
