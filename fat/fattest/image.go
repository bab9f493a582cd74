package fattest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/diskfs/go-diskfs/partition/mbr"
)

// Timestamp is stored in every directory entry created by Image.
var Timestamp = time.Date(2021, time.June, 15, 12, 30, 40, 0, time.UTC)

// Layout describes the volume to build.
type Layout struct {
	// FATType is 12, 16 or 32.
	FATType int
	// SectorsPerCluster defaults to 1.
	SectorsPerCluster uint8
	// FATs defaults to 2.
	FATs uint8
	// BytesPerSector is written to the BPB and defaults to 512. The image is
	// always built with 512 byte sectors.
	BytesPerSector uint16
	// PartitionStart places the volume in the first primary partition of an
	// MBR. 0 builds a superfloppy.
	PartitionStart uint32
	// Logical places the volume in the second logical drive of an extended
	// partition starting at PartitionStart.
	Logical bool
	// NoFSInfo leaves the FSInfo sector of a FAT32 volume empty.
	NoFSInfo bool
	// Label defaults to "SDBOOT".
	Label string
}

// Image is a formatted volume on a Disk.
type Image struct {
	Disk *Disk

	Layout       Layout
	BootSector   uint32
	FATBase      uint32
	FATSize      uint32
	RootSector   uint32
	RootEntries  uint32
	DataBase     uint32
	TotalSectors uint32
	MaxCluster   uint32
	RootCluster  uint32

	next uint32
	used uint32
	last uint32
	dirs map[uint32]*dirState
	root dirState
}

type dirState struct {
	clusters []uint32
	used     uint32
}

// Format builds a new disk holding an empty volume.
func Format(layout Layout) (*Image, error) {
	if layout.SectorsPerCluster == 0 {
		layout.SectorsPerCluster = 1
	}
	if layout.FATs == 0 {
		layout.FATs = 2
	}
	if layout.BytesPerSector == 0 {
		layout.BytesPerSector = SectorSize
	}
	if layout.Label == "" {
		layout.Label = "SDBOOT"
	}

	var (
		clusters    uint32
		reserved    uint32
		rootEntries uint32
		entryBits   uint32
	)
	switch layout.FATType {
	case 12:
		clusters, reserved, rootEntries, entryBits = 4000, 1, 512, 12
	case 16:
		clusters, reserved, rootEntries, entryBits = 16000, 1, 512, 16
	case 32:
		clusters, reserved, rootEntries, entryBits = 66000, 32, 0, 32
	default:
		return nil, fmt.Errorf("unsupported FAT type %d", layout.FATType)
	}

	csize := uint32(layout.SectorsPerCluster)
	fatSize := ((clusters+2)*entryBits/8 + SectorSize) / SectorSize
	rootSectors := rootEntries * 32 / SectorSize
	total := reserved + uint32(layout.FATs)*fatSize + rootSectors + clusters*csize

	img := &Image{
		Layout:       layout,
		BootSector:   layout.PartitionStart,
		FATSize:      fatSize,
		RootEntries:  rootEntries,
		TotalSectors: total,
		MaxCluster:   clusters + 2,
		next:         2,
		dirs:         make(map[uint32]*dirState),
	}
	if layout.Logical {
		img.BootSector = layout.PartitionStart + logicalOffset + 1
	}
	img.FATBase = img.BootSector + reserved
	img.RootSector = img.FATBase + uint32(layout.FATs)*fatSize
	img.DataBase = img.RootSector + rootSectors

	img.Disk = NewDisk(img.BootSector + total + 64)

	if err := img.writePartitions(); err != nil {
		return nil, err
	}
	img.writeBootSector(reserved, rootEntries)

	img.setEntry(0, 0x0FFFFFF8)
	img.setEntry(1, 0x0FFFFFFF)
	if layout.FATType == 32 {
		img.RootCluster = img.allocate(1)[0]
		img.root.clusters = []uint32{img.RootCluster}
	}
	return img, nil
}

// logicalOffset is the distance of the second extended boot record from the
// start of the extended partition.
const logicalOffset = 16

func (img *Image) writePartitions() error {
	layout := img.Layout
	if layout.PartitionStart == 0 {
		return nil
	}

	partType := mbr.Fat32LBA
	switch layout.FATType {
	case 12:
		partType = mbr.Fat12
	case 16:
		partType = mbr.Fat16b
	}

	if !layout.Logical {
		table := &mbr.Table{
			LogicalSectorSize:  SectorSize,
			PhysicalSectorSize: SectorSize,
			Partitions: []*mbr.Partition{
				{Type: partType, Start: layout.PartitionStart, Size: img.TotalSectors},
			},
		}
		return table.Write(img.Disk, img.Disk.Size())
	}

	extendedSize := logicalOffset + 1 + img.TotalSectors
	table := &mbr.Table{
		LogicalSectorSize:  SectorSize,
		PhysicalSectorSize: SectorSize,
		Partitions: []*mbr.Partition{
			{Type: mbr.ExtendedLBA, Start: layout.PartitionStart, Size: extendedSize},
		},
	}
	if err := table.Write(img.Disk, img.Disk.Size()); err != nil {
		return err
	}

	// The first logical drive is a single sector without a filesystem, its
	// extended boot record links to the second one.
	first := make([]byte, SectorSize)
	putPartitionEntry(first, 0, byte(partType), 1, 1)
	putPartitionEntry(first, 1, byte(mbr.ExtendedCHS), logicalOffset, img.TotalSectors+1)
	putSignature(first)
	img.Disk.WriteAt(first, int64(layout.PartitionStart)*SectorSize)

	second := make([]byte, SectorSize)
	putPartitionEntry(second, 0, byte(partType), 1, img.TotalSectors)
	putSignature(second)
	img.Disk.WriteAt(second, int64(layout.PartitionStart+logicalOffset)*SectorSize)
	return nil
}

func putPartitionEntry(sector []byte, slot int, kind byte, start, size uint32) {
	entry := sector[446+slot*16 : 446+(slot+1)*16]
	entry[4] = kind
	binary.LittleEndian.PutUint32(entry[8:], start)
	binary.LittleEndian.PutUint32(entry[12:], size)
}

func putSignature(sector []byte) {
	sector[510] = 0x55
	sector[511] = 0xAA
}

func (img *Image) writeBootSector(reserved, rootEntries uint32) {
	layout := img.Layout
	bs := make([]byte, SectorSize)
	copy(bs, []byte{0xEB, 0x3C, 0x90})
	copy(bs[3:], "SDBOOT  ")
	binary.LittleEndian.PutUint16(bs[11:], layout.BytesPerSector)
	bs[13] = layout.SectorsPerCluster
	binary.LittleEndian.PutUint16(bs[14:], uint16(reserved))
	bs[16] = layout.FATs
	binary.LittleEndian.PutUint16(bs[17:], uint16(rootEntries))
	if img.TotalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(bs[19:], uint16(img.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(bs[32:], img.TotalSectors)
	}
	bs[21] = 0xF8
	binary.LittleEndian.PutUint32(bs[28:], img.BootSector)

	label := []byte(fmt.Sprintf("%-11s", strings.ToUpper(layout.Label)))[:11]
	if layout.FATType == 32 {
		binary.LittleEndian.PutUint32(bs[36:], img.FATSize)
		binary.LittleEndian.PutUint32(bs[44:], 2)
		binary.LittleEndian.PutUint16(bs[48:], 1)
		binary.LittleEndian.PutUint16(bs[50:], 6)
		bs[66] = 0x29
		copy(bs[71:], label)
		copy(bs[82:], "FAT32   ")
	} else {
		binary.LittleEndian.PutUint16(bs[22:], uint16(img.FATSize))
		bs[38] = 0x29
		copy(bs[43:], label)
		copy(bs[54:], fmt.Sprintf("FAT%d   ", layout.FATType))
	}
	putSignature(bs)

	img.Disk.WriteAt(bs, int64(img.BootSector)*SectorSize)
}

func (img *Image) writeFSInfo() {
	if img.Layout.FATType != 32 || img.Layout.NoFSInfo {
		return
	}
	fsi := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(fsi[0:], 0x41615252)
	binary.LittleEndian.PutUint32(fsi[484:], 0x61417272)
	binary.LittleEndian.PutUint32(fsi[488:], img.MaxCluster-2-img.used)
	binary.LittleEndian.PutUint32(fsi[492:], img.last)
	putSignature(fsi)
	img.Disk.WriteAt(fsi, int64(img.BootSector+1)*SectorSize)
}

// Entry returns the FAT entry of cluster c of the first FAT.
func (img *Image) Entry(c uint32) uint32 {
	return img.entry(0, c)
}

// MirrorEntry returns the FAT entry of cluster c of the given FAT copy.
func (img *Image) MirrorEntry(copyIndex int, c uint32) uint32 {
	return img.entry(copyIndex, c)
}

func (img *Image) entry(copyIndex int, c uint32) uint32 {
	base := int64(img.FATBase+uint32(copyIndex)*img.FATSize) * SectorSize
	switch img.Layout.FATType {
	case 12:
		var b [2]byte
		img.Disk.ReadAt(b[:], base+int64(c+c/2))
		v := uint32(binary.LittleEndian.Uint16(b[:]))
		if c&1 == 1 {
			return v >> 4
		}
		return v & 0xFFF
	case 16:
		var b [2]byte
		img.Disk.ReadAt(b[:], base+int64(c*2))
		return uint32(binary.LittleEndian.Uint16(b[:]))
	default:
		var b [4]byte
		img.Disk.ReadAt(b[:], base+int64(c*4))
		return binary.LittleEndian.Uint32(b[:]) & 0x0FFFFFFF
	}
}

// SetEntry writes the FAT entry of cluster c in all FAT copies.
func (img *Image) SetEntry(c, value uint32) {
	img.setEntry(c, value)
}

func (img *Image) setEntry(c, value uint32) {
	for n := uint32(0); n < uint32(img.Layout.FATs); n++ {
		base := int64(img.FATBase+n*img.FATSize) * SectorSize
		switch img.Layout.FATType {
		case 12:
			var b [2]byte
			img.Disk.ReadAt(b[:], base+int64(c+c/2))
			v := binary.LittleEndian.Uint16(b[:])
			if c&1 == 1 {
				v = v&0x000F | uint16(value&0xFFF)<<4
			} else {
				v = v&0xF000 | uint16(value&0xFFF)
			}
			binary.LittleEndian.PutUint16(b[:], v)
			img.Disk.WriteAt(b[:], base+int64(c+c/2))
		case 16:
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(value))
			img.Disk.WriteAt(b[:], base+int64(c*2))
		default:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], value&0x0FFFFFFF)
			img.Disk.WriteAt(b[:], base+int64(c*4))
		}
	}
}

// Skip leaves the next n clusters free, so that following allocations are
// not contiguous with earlier ones.
func (img *Image) Skip(n uint32) {
	img.next += n
}

// Fill marks all clusters from the next free one up to the end as used.
func (img *Image) Fill() {
	for ; img.next < img.MaxCluster; img.next++ {
		img.setEntry(img.next, 0x0FFFFFFF)
		img.used++
		img.last = img.next
	}
	img.writeFSInfo()
}

// FreeClusters returns the number of clusters not allocated by the builder.
func (img *Image) FreeClusters() uint32 {
	return img.MaxCluster - 2 - img.used
}

// LastCluster returns the most recently allocated cluster.
func (img *Image) LastCluster() uint32 {
	return img.last
}

// allocate links n consecutive free clusters into a chain.
func (img *Image) allocate(n uint32) []uint32 {
	chain := make([]uint32, n)
	for i := range chain {
		chain[i] = img.take()
	}
	img.link(chain)
	return chain
}

func (img *Image) take() uint32 {
	c := img.next
	img.next++
	img.used++
	img.last = c
	img.writeFSInfo()
	return c
}

func (img *Image) link(chain []uint32) {
	for i, c := range chain {
		if i == len(chain)-1 {
			img.setEntry(c, 0x0FFFFFFF)
		} else {
			img.setEntry(c, chain[i+1])
		}
	}
}

// ClusterOffset returns the byte offset of cluster c on the disk.
func (img *Image) ClusterOffset(c uint32) int64 {
	return int64(img.DataBase+(c-2)*uint32(img.Layout.SectorsPerCluster)) * SectorSize
}

func (img *Image) clusterBytes() uint32 {
	return uint32(img.Layout.SectorsPerCluster) * SectorSize
}

// ShortName converts "NAME.EXT" into the padded 11 byte directory form.
func ShortName(name string) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	copy(raw[:8], strings.ToUpper(base))
	copy(raw[8:], strings.ToUpper(ext))
	return raw
}

// RawEntry builds a 32 byte directory entry.
func RawEntry(name [11]byte, attr byte, cluster, size uint32) []byte {
	e := make([]byte, 32)
	copy(e, name[:])
	e[11] = attr
	binary.LittleEndian.PutUint16(e[20:], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(e[26:], uint16(cluster))
	binary.LittleEndian.PutUint32(e[28:], size)

	date := uint16(Timestamp.Year()-1980)<<9 | uint16(Timestamp.Month())<<5 | uint16(Timestamp.Day())
	tod := uint16(Timestamp.Hour())<<11 | uint16(Timestamp.Minute())<<5 | uint16(Timestamp.Second()/2)
	binary.LittleEndian.PutUint16(e[22:], tod)
	binary.LittleEndian.PutUint16(e[24:], date)
	return e
}

// AddFile stores data in a new cluster chain and adds its entry to the
// directory starting at parent, 0 being the root directory. It returns the
// first cluster, 0 for empty files.
func (img *Image) AddFile(parent uint32, name string, data []byte) (uint32, error) {
	return img.AddSparseFile(parent, name, data, 0)
}

// AddSparseFile is AddFile leaving gap free clusters after every cluster of
// the file, so that its chain is fragmented.
func (img *Image) AddSparseFile(parent uint32, name string, data []byte, gap uint32) (uint32, error) {
	var first uint32
	if len(data) > 0 {
		n := (uint32(len(data)) + img.clusterBytes() - 1) / img.clusterBytes()
		chain := make([]uint32, n)
		for i := range chain {
			chain[i] = img.take()
			img.Skip(gap)
		}
		img.link(chain)
		first = chain[0]
		for i, c := range chain {
			start := uint32(i) * img.clusterBytes()
			end := start + img.clusterBytes()
			if end > uint32(len(data)) {
				end = uint32(len(data))
			}
			img.Disk.WriteAt(data[start:end], img.ClusterOffset(c))
		}
	}

	if err := img.AddEntry(parent, RawEntry(ShortName(name), 0x20, first, uint32(len(data)))); err != nil {
		return 0, err
	}
	return first, nil
}

// AddDir creates an empty subdirectory with "." and ".." entries and
// returns its cluster.
func (img *Image) AddDir(parent uint32, name string) (uint32, error) {
	cluster := img.allocate(1)[0]
	img.Disk.WriteAt(make([]byte, img.clusterBytes()), img.ClusterOffset(cluster))
	img.dirs[cluster] = &dirState{clusters: []uint32{cluster}}

	if err := img.AddEntry(cluster, RawEntry(ShortName("."), 0x10, cluster, 0)); err != nil {
		return 0, err
	}
	dotdot := ShortName(".")
	dotdot[1] = '.'
	parentCluster := parent
	if parent == img.RootCluster {
		parentCluster = 0
	}
	if err := img.AddEntry(cluster, RawEntry(dotdot, 0x10, parentCluster, 0)); err != nil {
		return 0, err
	}

	if err := img.AddEntry(parent, RawEntry(ShortName(name), 0x10, cluster, 0)); err != nil {
		return 0, err
	}
	return cluster, nil
}

// AddEntry appends a raw 32 byte entry to the directory starting at parent.
// Cluster chained directories grow by one cluster when full.
func (img *Image) AddEntry(parent uint32, raw []byte) error {
	var dir *dirState
	if parent == 0 || parent == img.RootCluster {
		dir = &img.root
	} else {
		dir = img.dirs[parent]
		if dir == nil {
			return fmt.Errorf("no directory at cluster %d", parent)
		}
	}

	if len(dir.clusters) == 0 {
		// Fixed FAT12/16 root region.
		if dir.used >= img.RootEntries {
			return fmt.Errorf("root directory full")
		}
		img.Disk.WriteAt(raw, int64(img.RootSector)*SectorSize+int64(dir.used)*32)
		dir.used++
		return nil
	}

	perCluster := img.clusterBytes() / 32
	if dir.used == uint32(len(dir.clusters))*perCluster {
		next := img.take()
		dir.clusters = append(dir.clusters, next)
		img.link(dir.clusters)
		img.Disk.WriteAt(make([]byte, img.clusterBytes()), img.ClusterOffset(next))
	}
	c := dir.clusters[dir.used/perCluster]
	img.Disk.WriteAt(raw, img.ClusterOffset(c)+int64(dir.used%perCluster)*32)
	dir.used++
	return nil
}
