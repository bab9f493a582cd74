// Package fattest builds FAT volumes in memory for tests of the fat package
// and of the packages using it.
package fattest

import (
	"errors"
	"io"

	"github.com/aligator/sdboot/checkpoint"
)

// SectorSize of all disks built by this package.
const SectorSize = 512

var (
	// ErrFault is returned for injected faults.
	ErrFault = errors.New("injected fault")
	// ErrOutOfRange is returned for sectors beyond the disk.
	ErrOutOfRange = errors.New("sector out of range")
)

// Disk is a sparse in-memory block device. Sectors never written read as
// zeros. It also implements io.ReaderAt, io.WriterAt and io.Seeker so it can
// back a simulated card or be handed to partitioning code.
type Disk struct {
	sectors map[uint32][]byte
	count   uint32
	pos     int64

	failRead  map[uint32]bool
	failWrite map[uint32]bool

	reads  []uint32
	writes []uint32
}

// NewDisk creates a disk with count sectors.
func NewDisk(count uint32) *Disk {
	return &Disk{
		sectors:   make(map[uint32][]byte),
		count:     count,
		failRead:  make(map[uint32]bool),
		failWrite: make(map[uint32]bool),
	}
}

// Sectors returns the size of the disk in sectors.
func (d *Disk) Sectors() uint32 {
	return d.count
}

// Size returns the size of the disk in bytes.
func (d *Disk) Size() int64 {
	return int64(d.count) * SectorSize
}

// FailReads makes reads of the given sectors fail.
func (d *Disk) FailReads(sectors ...uint32) {
	for _, s := range sectors {
		d.failRead[s] = true
	}
}

// FailWrites makes writes of the given sectors fail.
func (d *Disk) FailWrites(sectors ...uint32) {
	for _, s := range sectors {
		d.failWrite[s] = true
	}
}

// Heal removes all injected faults.
func (d *Disk) Heal() {
	d.failRead = make(map[uint32]bool)
	d.failWrite = make(map[uint32]bool)
}

// Reads returns the sectors read through ReadBlock since the last Reset.
func (d *Disk) Reads() []uint32 {
	return d.reads
}

// Writes returns the sectors written through WriteBlock since the last Reset.
func (d *Disk) Writes() []uint32 {
	return d.writes
}

// Reset clears the recorded reads and writes.
func (d *Disk) Reset() {
	d.reads = nil
	d.writes = nil
}

// Sector returns a copy of a sector.
func (d *Disk) Sector(n uint32) []byte {
	out := make([]byte, SectorSize)
	copy(out, d.sectors[n])
	return out
}

func (d *Disk) ReadBlock(sector uint32, dst []byte) error {
	d.reads = append(d.reads, sector)
	if sector >= d.count {
		return checkpoint.Mark(ErrOutOfRange)
	}
	if d.failRead[sector] {
		return checkpoint.Mark(ErrFault)
	}

	data, ok := d.sectors[sector]
	if !ok {
		for i := range dst[:SectorSize] {
			dst[i] = 0
		}
		return nil
	}
	copy(dst[:SectorSize], data)
	return nil
}

func (d *Disk) WriteBlock(sector uint32, src []byte) error {
	d.writes = append(d.writes, sector)
	if sector >= d.count {
		return checkpoint.Mark(ErrOutOfRange)
	}
	if d.failWrite[sector] {
		return checkpoint.Mark(ErrFault)
	}

	d.sector(sector)
	copy(d.sectors[sector], src[:SectorSize])
	return nil
}

// sector returns the backing slice of a sector, allocating it if needed.
func (d *Disk) sector(n uint32) []byte {
	data, ok := d.sectors[n]
	if !ok {
		data = make([]byte, SectorSize)
		d.sectors[n] = data
	}
	return data
}

func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, checkpoint.Mark(ErrOutOfRange)
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= d.Size() {
			return n, io.EOF
		}
		sector := uint32(pos / SectorSize)
		inSector := int(pos % SectorSize)
		data, ok := d.sectors[sector]
		if !ok {
			data = make([]byte, SectorSize)
		}
		n += copy(p[n:], data[inSector:])
	}
	return n, nil
}

func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, checkpoint.Mark(ErrOutOfRange)
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= d.Size() {
			return n, checkpoint.Mark(ErrOutOfRange)
		}
		sector := uint32(pos / SectorSize)
		inSector := int(pos % SectorSize)
		n += copy(d.sector(sector)[inSector:], p[n:])
	}
	return n, nil
}

func (d *Disk) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += d.pos
	case io.SeekEnd:
		offset += d.Size()
	}
	if offset < 0 {
		return d.pos, checkpoint.Mark(ErrOutOfRange)
	}
	d.pos = offset
	return offset, nil
}
