// Package fat implements a small FAT12/16/32 filesystem on top of a raw
// BlockDevice. All sector I/O goes through a single cached sector (Window);
// bulk file transfers of whole sectors bypass it.
package fat

import (
	"strings"
	"time"

	"github.com/aligator/sdboot/checkpoint"
)

// Type is the FAT sub type of a mounted volume.
type Type uint8

const (
	FAT12 Type = iota + 1
	FAT16
	FAT32
)

func (t Type) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	}
	return "unknown"
}

// Classify returns the FAT sub type for a volume whose highest cluster
// number plus one is maxCluster.
func Classify(maxCluster uint32) Type {
	switch {
	case maxCluster < 0xFF7:
		return FAT12
	case maxCluster < 0xFFF7:
		return FAT16
	}
	return FAT32
}

// Volume is a mounted FAT filesystem. All derived offsets are computed once
// by Mount.
type Volume struct {
	dev      BlockDevice
	win      *Window
	clock    func() time.Time
	readOnly bool

	fsType     Type
	csize      uint32
	nFATs      uint32
	nRootDir   uint32
	fatSize    uint32
	bootSector uint32
	fatBase    uint32
	dirBase    uint32
	dataBase   uint32
	maxCluster uint32
	label      string

	fsiSector    uint32
	lastCluster  uint32
	freeClusters uint32
	fsiDirty     bool
}

type mountConfig struct {
	partition int
	win       *Window
	clock     func() time.Time
	readOnly  bool
}

// MountOption is a functional option for Mount.
type MountOption func(*mountConfig)

// WithPartition selects the partition to mount. 0 searches sector 0 and then
// the primary partitions for the first FAT volume, 1-4 select a primary
// partition and 5 and above a logical drive of the extended partition chain.
func WithPartition(n int) MountOption {
	return func(c *mountConfig) {
		c.partition = n
	}
}

// WithWindow makes the volume use a shared sector window.
func WithWindow(w *Window) MountOption {
	return func(c *mountConfig) {
		c.win = w
	}
}

// WithClock sets the time source for directory entry timestamps.
func WithClock(clock func() time.Time) MountOption {
	return func(c *mountConfig) {
		c.clock = clock
	}
}

// WithReadOnly refuses all writes to the volume.
func WithReadOnly() MountOption {
	return func(c *mountConfig) {
		c.readOnly = true
	}
}

// Mount initializes dev if it implements Initializer, locates a FAT boot
// sector and computes the volume geometry.
func Mount(dev BlockDevice, opts ...MountOption) (*Volume, error) {
	if dev == nil {
		return nil, checkpoint.Mark(ErrInvalidDrive)
	}

	cfg := mountConfig{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.partition < 0 {
		return nil, checkpoint.Mark(ErrInvalidDrive)
	}
	if cfg.win == nil {
		cfg.win = NewWindow()
	}

	if initializer, ok := dev.(Initializer); ok {
		if err := initializer.Initialize(); err != nil {
			return nil, checkpoint.Wrap(err, ErrNotReady)
		}
	}

	v := &Volume{
		dev:      dev,
		win:      cfg.win,
		clock:    cfg.clock,
		readOnly: cfg.readOnly,
	}
	if p, ok := dev.(WriteProtector); ok && p.WriteProtected() {
		v.readOnly = true
	}

	bootSector, err := v.locate(cfg.partition)
	if err != nil {
		return nil, err
	}

	if err := v.parseBPB(bootSector); err != nil {
		return nil, err
	}

	if v.fsType == FAT32 {
		v.readFSInfo()
	}
	return v, nil
}

// parseBPB computes the geometry from the boot sector resident in the window.
func (v *Volume) parseBPB(bootSector uint32) error {
	bs := v.win.view()
	if bs.u16(bpbBytsPerSec) != SectorSize {
		return checkpoint.Mark(ErrNoFilesystem)
	}

	fatSize := uint32(bs.u16(bpbFATSz16))
	if fatSize == 0 {
		fatSize = bs.u32(bpbFATSz32)
	}
	totalSectors := uint32(bs.u16(bpbTotSec16))
	if totalSectors == 0 {
		totalSectors = bs.u32(bpbTotSec32)
	}
	reserved := uint32(bs.u16(bpbRsvdSecCnt))

	v.bootSector = bootSector
	v.fatSize = fatSize
	v.nFATs = uint32(bs.u8(bpbNumFATs))
	v.csize = uint32(bs.u8(bpbSecPerClus))
	v.nRootDir = uint32(bs.u16(bpbRootEntCnt))
	v.fatBase = bootSector + reserved

	fatArea := fatSize * v.nFATs
	rootSectors := v.nRootDir / entriesPerSector
	overhead := reserved + fatArea + rootSectors
	if v.csize == 0 || v.nFATs == 0 || totalSectors <= overhead {
		return checkpoint.Mark(ErrNoFilesystem)
	}

	v.maxCluster = (totalSectors-overhead)/v.csize + 2
	v.fsType = Classify(v.maxCluster)

	if v.fsType == FAT32 {
		v.dirBase = bs.u32(bpbRootClus)
		v.label = strings.TrimRight(string(bs[bsVolLab32:bsVolLab32+11]), " ")
		v.fsiSector = bootSector + uint32(bs.u16(bpbFSInfo))
	} else {
		v.dirBase = v.fatBase + fatArea
		v.label = strings.TrimRight(string(bs[bsVolLab:bsVolLab+11]), " ")
	}
	v.dataBase = v.fatBase + fatArea + rootSectors

	v.freeClusters = unknownFree
	return nil
}

// readFSInfo loads the free cluster hints. A missing or damaged FSInfo
// sector is not an error.
func (v *Volume) readFSInfo() {
	if v.fsiSector == v.bootSector {
		return
	}
	if err := v.win.move(v, v.fsiSector); err != nil {
		return
	}
	fsi := v.win.view()
	if fsi.u16(bs55AA) == bootSignature &&
		fsi.u32(fsiLeadSig) == fsiLeadSignature &&
		fsi.u32(fsiStrucSig) == fsiStrucSignature {
		v.lastCluster = fsi.u32(fsiNxtFree)
		v.freeClusters = fsi.u32(fsiFreeCount)
	}
}

// Type returns the FAT sub type.
func (v *Volume) Type() Type {
	return v.fsType
}

// Label returns the volume label stored in the boot sector.
func (v *Volume) Label() string {
	return v.label
}

// SectorsPerCluster returns the cluster size in sectors.
func (v *Volume) SectorsPerCluster() uint32 {
	return v.csize
}

// FATBase returns the first sector of the first FAT.
func (v *Volume) FATBase() uint32 {
	return v.fatBase
}

// DataBase returns the sector of cluster 2.
func (v *Volume) DataBase() uint32 {
	return v.dataBase
}

// MaxCluster returns the highest valid cluster number plus one.
func (v *Volume) MaxCluster() uint32 {
	return v.maxCluster
}

// BootSector returns the sector the volume starts at.
func (v *Volume) BootSector() uint32 {
	return v.bootSector
}

// FreeClusters returns the free cluster count known from FSInfo, or
// 0xFFFFFFFF if unknown.
func (v *Volume) FreeClusters() uint32 {
	return v.freeClusters
}

// ReadOnly reports whether writes are refused.
func (v *Volume) ReadOnly() bool {
	return v.readOnly
}

// ClusterToSector returns the first sector of cluster c, or 0 if c is not a
// data cluster.
func (v *Volume) ClusterToSector(c uint32) uint32 {
	c -= 2
	if c >= v.maxCluster-2 {
		return 0
	}
	return c*v.csize + v.dataBase
}

// Sync writes back the cached sector and, on FAT32, an updated FSInfo
// sector.
func (v *Volume) Sync() error {
	if err := v.win.move(v, 0); err != nil {
		return err
	}

	if v.fsType == FAT32 && v.fsiDirty {
		v.win.invalidate()
		buf := v.win.view()
		for i := range buf {
			buf[i] = 0
		}
		buf.putU16(bs55AA, bootSignature)
		buf.putU32(fsiLeadSig, fsiLeadSignature)
		buf.putU32(fsiStrucSig, fsiStrucSignature)
		buf.putU32(fsiFreeCount, v.freeClusters)
		buf.putU32(fsiNxtFree, v.lastCluster)
		if err := v.dev.WriteBlock(v.fsiSector, buf); err != nil {
			return checkpoint.Wrap(err, ErrIO)
		}
		v.fsiDirty = false
	}

	if s, ok := v.dev.(Syncer); ok {
		if err := s.Sync(); err != nil {
			return checkpoint.Wrap(err, ErrIO)
		}
	}
	return nil
}
