// Package inode implements the indexed-inode file layer of spec §4.6:
// on-disk inodes with direct, indirect, and double-indirect index
// blocks, file growth, read/write at offset through the buffer cache,
// and open-inode de-duplication. It is grounded on the original
// Pintos filesys/inode.c, translated from its goto-free but
// pointer-threaded C into the teacher kernel's idiom of a coarse
// filesystem lock plus a concurrent open-inode table keyed by sector
// (spec §9 design note 3).
package inode

import (
	"encoding/binary"
	"sync"

	"cache"
	"defs"
	"freemap"
	"hashtable"
	"mem"
	"util"
)

const inodeMagic = 0x494E4F44

// Index-tier boundaries, in units of sectors-as-file-blocks.
const (
	indirectBase   = 124
	dindirectBase  = indirectBase + 128
	dindirectLimit = dindirectBase + 128*128
)

// diskInode mirrors the on-disk layout of spec §6: one sector exactly.
type diskInode struct {
	length         int32
	magic          uint32
	blocks         [124]uint32
	firstIndirect  uint32
	doubleIndirect uint32
}

func (d *diskInode) marshal() [mem.SectorSize]byte {
	var buf [mem.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.length))
	binary.LittleEndian.PutUint32(buf[4:8], d.magic)
	for i, b := range d.blocks {
		binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], b)
	}
	binary.LittleEndian.PutUint32(buf[504:508], d.firstIndirect)
	binary.LittleEndian.PutUint32(buf[508:512], d.doubleIndirect)
	return buf
}

func unmarshalDiskInode(buf []byte) diskInode {
	var d diskInode
	d.length = int32(binary.LittleEndian.Uint32(buf[0:4]))
	d.magic = binary.LittleEndian.Uint32(buf[4:8])
	for i := range d.blocks {
		d.blocks[i] = binary.LittleEndian.Uint32(buf[8+4*i : 12+4*i])
	}
	d.firstIndirect = binary.LittleEndian.Uint32(buf[504:508])
	d.doubleIndirect = binary.LittleEndian.Uint32(buf[508:512])
	return d
}

func marshalIndirect(blocks [128]uint32) [mem.SectorSize]byte {
	var buf [mem.SectorSize]byte
	for i, b := range blocks {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], b)
	}
	return buf
}

func unmarshalIndirect(buf []byte) [128]uint32 {
	var blocks [128]uint32
	for i := range blocks {
		blocks[i] = binary.LittleEndian.Uint32(buf[4*i : 4*i+4])
	}
	return blocks
}

// Inode_t is the in-memory inode of spec §3.3: shared across
// concurrent openers, destroyed when the open count drops to zero.
type Inode_t struct {
	fs     *Filesystem_t
	sector mem.Sector

	mu           sync.Mutex
	openCnt      int
	removed      bool
	denyWriteCnt int
	disk         diskInode
}

// Filesystem_t is the inode layer's entry point: the coarse
// filesystem lock of spec §5 serializing Create, Open, Close and Stats
// (the per-inode operations such as ReadAt and WriteAt take only the
// inode's own lock), the cache it reads/writes index and data sectors
// through, the free-map it allocates from, and the open-inode table.
type Filesystem_t struct {
	mu    sync.Mutex
	cache *cache.Cache_t
	free  *freemap.Bitmap_t
	open  *hashtable.Hashtable_t[uint32, *Inode_t]

	creates    uint64
	opens      uint64
	dedupHits  uint64
}

// Stats_t is a point-in-time snapshot of inode-layer counters.
type Stats_t struct {
	Creates   uint64
	Opens     uint64
	DedupHits uint64
	OpenCount int
}

// Stats reports the current counters, plus the live open-inode count.
func (fs *Filesystem_t) Stats() Stats_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return Stats_t{
		Creates:   fs.creates,
		Opens:     fs.opens,
		DedupHits: fs.dedupHits,
		OpenCount: fs.open.Len(),
	}
}

// MkFilesystem builds a filesystem over an already-open cache and
// free-map.
func MkFilesystem(c *cache.Cache_t, free *freemap.Bitmap_t) *Filesystem_t {
	return &Filesystem_t{
		cache: c,
		free:  free,
		open:  hashtable.MkHash[uint32, *Inode_t](64, func(k uint32) uint32 { return hashtable.HashInt(int(k)) }),
	}
}

// Create initializes a fresh inode of the given length at sector and
// writes it to disk.
func (fs *Filesystem_t) Create(sector mem.Sector, length int64) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var d diskInode
	if rc := fs.extendLength(&d, length, true); rc != 0 {
		return rc
	}
	d.magic = inodeMagic
	buf := d.marshal()
	fs.cache.Write(sector, 0, buf[:])
	fs.creates++
	return 0
}

// Open returns the shared in-memory inode for sector, reading it from
// disk on first open.
func (fs *Filesystem_t) Open(sector mem.Sector) *Inode_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.opens++
	if ino, ok := fs.open.Get(uint32(sector)); ok {
		fs.dedupHits++
		ino.mu.Lock()
		ino.openCnt++
		ino.mu.Unlock()
		return ino
	}

	var buf [mem.SectorSize]byte
	fs.cache.Read(sector, 0, buf[:])
	d := unmarshalDiskInode(buf[:])
	ino := &Inode_t{fs: fs, sector: sector, openCnt: 1, disk: d}
	fs.open.Put(uint32(sector), ino)
	return ino
}

// Close drops one reference to ino. On the last close of a removed
// inode, every data and index sector it references is freed, along
// with the inode sector itself (spec §9 design note: a removed inode
// must also free its indirect and double-indirect index sectors, not
// only the data sectors they point to).
func (fs *Filesystem_t) Close(ino *Inode_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino.mu.Lock()
	ino.openCnt--
	cnt := ino.openCnt
	removed := ino.removed
	d := ino.disk
	ino.mu.Unlock()

	if cnt != 0 {
		return
	}
	fs.open.Del(uint32(ino.sector))
	if removed {
		fs.freeAllBlocks(&d)
		fs.free.Release(ino.sector)
	}
}

// Remove marks ino for deletion once its last opener closes it.
func (ino *Inode_t) Remove() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.removed = true
}

// Sector returns the inode's disk sector number.
func (ino *Inode_t) Sector() mem.Sector {
	return ino.sector
}

// Length returns the inode's current length. Cached in memory under
// the inode's own lock rather than re-read through the cache on every
// call, per spec §9 design note 5.
func (ino *Inode_t) Length() int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int64(ino.disk.length)
}

// DenyWrite disables writes to ino. May be called at most once per
// opener.
func (ino *Inode_t) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCnt {
		panic("inode: deny_write_cnt exceeds open_cnt")
	}
}

// AllowWrite re-enables writes previously disabled by DenyWrite.
func (ino *Inode_t) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt <= 0 {
		panic("inode: allow_write without a matching deny_write")
	}
	ino.denyWriteCnt--
}

// ReadAt copies up to len(buf) bytes starting at off into buf,
// stopping at the inode's length. It returns the number of bytes
// actually read.
func (ino *Inode_t) ReadAt(buf []byte, off int64) int {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	read := 0
	size := len(buf)
	for size > 0 {
		if off >= int64(ino.disk.length) {
			break
		}
		idx := int(off / mem.SectorSize)
		sec := ino.fs.indexToSector(&ino.disk, idx)
		secOfs := int(off % mem.SectorSize)

		inodeLeft := int64(ino.disk.length) - off
		sectorLeft := int64(mem.SectorSize - secOfs)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}

		ino.fs.cache.Read(sec, secOfs, buf[read:read+int(chunk)])
		size -= int(chunk)
		off += chunk
		read += int(chunk)
	}
	return read
}

// WriteAt copies len(buf) bytes from buf into ino starting at off,
// extending the inode if the write reaches past its current length.
// It returns the number of bytes actually written, 0 if writes are
// currently denied.
func (ino *Inode_t) WriteAt(buf []byte, off int64) int {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0
	}

	need := off + int64(len(buf))
	if rc := ino.fs.extendLength(&ino.disk, need, false); rc != 0 {
		return 0
	}
	diskBuf := ino.disk.marshal()
	ino.fs.cache.Write(ino.sector, 0, diskBuf[:])

	written := 0
	size := len(buf)
	for size > 0 {
		idx := int(off / mem.SectorSize)
		sec := ino.fs.indexToSector(&ino.disk, idx)
		secOfs := int(off % mem.SectorSize)

		inodeLeft := int64(ino.disk.length) - off
		sectorLeft := int64(mem.SectorSize - secOfs)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}

		ino.fs.cache.Write(sec, secOfs, buf[written:written+int(chunk)])
		size -= int(chunk)
		off += chunk
		written += int(chunk)
	}
	return written
}

// indexToSector implements spec §4.6's index-to-sector algorithm.
func (fs *Filesystem_t) indexToSector(d *diskInode, index int) mem.Sector {
	switch {
	case index < indirectBase:
		return mem.Sector(d.blocks[index])
	case index < dindirectBase:
		ib := fs.readIndirect(mem.Sector(d.firstIndirect))
		return mem.Sector(ib[index-indirectBase])
	case index < dindirectLimit:
		outer := fs.readIndirect(mem.Sector(d.doubleIndirect))
		dIdx := (index - dindirectBase) / 128
		inner := fs.readIndirect(mem.Sector(outer[dIdx]))
		return mem.Sector(inner[(index-dindirectBase)%128])
	default:
		panic("inode: file too long")
	}
}

func (fs *Filesystem_t) readIndirect(sec mem.Sector) [128]uint32 {
	var buf [mem.SectorSize]byte
	fs.cache.Read(sec, 0, buf[:])
	return unmarshalIndirect(buf[:])
}

func (fs *Filesystem_t) writeIndirect(sec mem.Sector, blocks [128]uint32) {
	buf := marshalIndirect(blocks)
	fs.cache.Write(sec, 0, buf[:])
}

// extendFlat allocates up to blocksToAllocate new sectors into
// blocksSlice starting at startIndex, zeroing each through the cache.
// It returns how many were actually allocated; fewer than requested
// means the free map is exhausted.
func (fs *Filesystem_t) extendFlat(blocksSlice []uint32, startIndex, blocksToAllocate int) (int, defs.Err_t) {
	if blocksToAllocate == 0 {
		return 0, 0
	}
	toAllocateMax := len(blocksSlice) - startIndex
	toAllocate := blocksToAllocate
	if toAllocate > toAllocateMax {
		toAllocate = toAllocateMax
	}

	secs := fs.free.Allocate(toAllocate)
	var zero [mem.SectorSize]byte
	for i, s := range secs {
		blocksSlice[startIndex+i] = uint32(s)
		fs.cache.Write(s, 0, zero[:])
	}
	if len(secs) < toAllocate {
		return len(secs), defs.ENOSPC
	}
	return len(secs), 0
}

// extendIndirect grows through a single indirect block, allocating
// the index block itself on first use.
func (fs *Filesystem_t) extendIndirect(indirectSec *uint32, startIndex, blocksToAllocate int) (int, defs.Err_t) {
	if blocksToAllocate == 0 {
		return 0, 0
	}
	if *indirectSec == 0 {
		secs := fs.free.Allocate(1)
		if len(secs) == 0 {
			return 0, defs.ENOSPC
		}
		*indirectSec = uint32(secs[0])
		var zero [mem.SectorSize]byte
		fs.cache.Write(secs[0], 0, zero[:])
	}

	blk := fs.readIndirect(mem.Sector(*indirectSec))
	n, rc := fs.extendFlat(blk[:], startIndex, blocksToAllocate)
	if n > 0 {
		fs.writeIndirect(mem.Sector(*indirectSec), blk)
	}
	return n, rc
}

// extendDIndirect grows through the double-indirect tier: a block of
// 128 pointers to indirect blocks, each holding 128 data pointers.
func (fs *Filesystem_t) extendDIndirect(dindirectSec *uint32, startIndex, blocksToAllocate int) (int, defs.Err_t) {
	if blocksToAllocate == 0 {
		return 0, 0
	}
	if *dindirectSec == 0 {
		secs := fs.free.Allocate(1)
		if len(secs) == 0 {
			return 0, defs.ENOSPC
		}
		*dindirectSec = uint32(secs[0])
		var zero [mem.SectorSize]byte
		fs.cache.Write(secs[0], 0, zero[:])
	}

	outer := fs.readIndirect(mem.Sector(*dindirectSec))
	startOuter := startIndex / 128
	allocated := 0
	outerDirty := false
	var rc defs.Err_t
	for blocksToAllocate > 0 && startOuter < 128 {
		n, e := fs.extendIndirect(&outer[startOuter], startIndex%128, blocksToAllocate)
		if n > 0 {
			outerDirty = true
		}
		allocated += n
		blocksToAllocate -= n
		startIndex += n
		startOuter++
		if e != 0 {
			rc = e
			break
		}
	}
	if outerDirty {
		fs.writeIndirect(mem.Sector(*dindirectSec), outer)
	}
	return allocated, rc
}

// extendLength implements spec §4.6's growth algorithm: fill the
// direct region first, then indirect, then double-indirect.
func (fs *Filesystem_t) extendLength(d *diskInode, newLength int64, create bool) defs.Err_t {
	if !create && newLength <= int64(d.length) {
		return 0
	}

	var blocksToAllocate, startIndex int
	if create {
		blocksToAllocate = int(util.Ceildiv(newLength, int64(mem.SectorSize)))
		startIndex = 0
	} else {
		blocksToAllocate = int(util.Ceildiv(newLength, int64(mem.SectorSize))) -
			int(util.Ceildiv(int64(d.length), int64(mem.SectorSize)))
		startIndex = int(util.Ceildiv(int64(d.length), int64(mem.SectorSize)))
	}

	if startIndex < indirectBase {
		n, rc := fs.extendFlat(d.blocks[:], startIndex, blocksToAllocate)
		blocksToAllocate -= n
		startIndex += n
		if rc != 0 {
			return rc
		}
	}
	if startIndex < dindirectBase {
		n, rc := fs.extendIndirect(&d.firstIndirect, startIndex-indirectBase, blocksToAllocate)
		blocksToAllocate -= n
		startIndex += n
		if rc != 0 {
			return rc
		}
	}
	if startIndex < dindirectLimit {
		n, rc := fs.extendDIndirect(&d.doubleIndirect, startIndex-dindirectBase, blocksToAllocate)
		blocksToAllocate -= n
		startIndex += n
		if rc != 0 {
			return rc
		}
	}
	if blocksToAllocate != 0 {
		panic("inode: growth accounting mismatch")
	}

	d.length = int32(newLength)
	return 0
}

// freeAllBlocks releases every data sector reachable through d's
// index, plus the index sectors themselves.
func (fs *Filesystem_t) freeAllBlocks(d *diskInode) {
	n := int(util.Ceildiv(int64(d.length), int64(mem.SectorSize)))
	for i := 0; i < n; i++ {
		s := fs.indexToSector(d, i)
		if s != 0 {
			fs.free.Release(s)
		}
	}
	if d.firstIndirect != 0 {
		fs.free.Release(mem.Sector(d.firstIndirect))
	}
	if d.doubleIndirect != 0 {
		outer := fs.readIndirect(mem.Sector(d.doubleIndirect))
		for _, s := range outer {
			if s != 0 {
				fs.free.Release(mem.Sector(s))
			}
		}
		fs.free.Release(mem.Sector(d.doubleIndirect))
	}
}
