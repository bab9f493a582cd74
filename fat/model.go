// File model contains the offsets of the on-disk FAT structures. All of them
// are little endian and read through bounds checked slice views.

package fat

import "encoding/binary"

// Boot sector and BPB.
const (
	bpbBytsPerSec = 11
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbNumFATs    = 16
	bpbRootEntCnt = 17
	bpbTotSec16   = 19
	bpbFATSz16    = 22
	bpbTotSec32   = 32
	bpbFATSz32    = 36
	bpbExtFlags   = 40
	bpbRootClus   = 44
	bpbFSInfo     = 48

	bsVolLab       = 43
	bsFilSysType   = 54
	bsVolLab32     = 71
	bsFilSysType32 = 82
	bs55AA         = 510

	bootSignature = 0xAA55
)

// Master boot record.
const (
	mbrTable     = 446
	mbrEntrySize = 16
	mbrEntries   = 4

	ptType     = 4
	ptStartLBA = 8

	ptExtendedCHS = 0x05
	ptExtendedLBA = 0x0F
)

// FSInfo sector.
const (
	fsiLeadSig   = 0
	fsiStrucSig  = 484
	fsiFreeCount = 488
	fsiNxtFree   = 492

	fsiLeadSignature  = 0x41615252
	fsiStrucSignature = 0x61417272
)

// Directory entry.
const (
	dirName      = 0
	dirAttr      = 11
	dirFstClusHI = 20
	dirWrtTime   = 22
	dirWrtDate   = 24
	dirFstClusLO = 26
	dirFileSize  = 28

	dirEntrySize     = 32
	entriesPerSector = SectorSize / dirEntrySize

	// deletedMarker marks a free slot, the end of the directory is a zero
	// first name byte.
	deletedMarker = 0xE5
	// escapedE5 stands for a real 0xE5 first name byte.
	escapedE5 = 0x05
)

// Attribute bits of a directory entry.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolume    = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// Cluster values.
const (
	// ClusterInvalid is returned by NextCluster for clusters out of range and
	// for failed lookups.
	ClusterInvalid = 1

	fat32Mask   = 0x0FFFFFFF
	endOfChain  = 0x0FFFFFFF
	unknownFree = 0xFFFFFFFF
)

// view is a bounds checked little endian accessor over a sector buffer.
type view []byte

func (v view) u8(off int) uint8 {
	return v[off]
}

func (v view) u16(off int) uint16 {
	return binary.LittleEndian.Uint16(v[off : off+2])
}

func (v view) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(v[off : off+4])
}

func (v view) putU16(off int, val uint16) {
	binary.LittleEndian.PutUint16(v[off:off+2], val)
}

func (v view) putU32(off int, val uint32) {
	binary.LittleEndian.PutUint32(v[off:off+4], val)
}

// entryAt returns the view of the directory entry with the given index
// inside a sector.
func entryAt(sector []byte, index uint32) view {
	off := (index % entriesPerSector) * dirEntrySize
	return view(sector[off : off+dirEntrySize])
}
