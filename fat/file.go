package fat

import (
	"fmt"
	"io"
	"math"
	"syscall"

	"github.com/aligator/sdboot/checkpoint"
	"github.com/spf13/afero"
)

// Mode is the access mode of a File.
type Mode uint8

const (
	ModeRead Mode = 1 << iota
	ModeWrite
)

// File is an open file of a volume. It reads and writes sequentially, whole
// sectors are transferred directly between the caller's buffer and the
// device. After an I/O error every further operation fails with ErrIO
// without touching the device again.
type File struct {
	vol     *Volume
	mode    Mode
	failed  bool
	written bool

	startCluster uint32
	cluster      uint32
	sector       uint32
	// sectorsLeft counts the sectors left in the current cluster, including
	// the current one.
	sectorsLeft uint32

	offset uint32
	size   uint32

	dirSector uint32
	dirIndex  uint32
}

// Open binds the directory entry e to a new file handle.
func (v *Volume) Open(e Entry, mode Mode) (*File, error) {
	if mode&(ModeRead|ModeWrite) == 0 {
		return nil, checkpoint.Mark(ErrDenied)
	}
	if mode&ModeWrite != 0 {
		if v.readOnly {
			return nil, checkpoint.Mark(ErrWriteProtected)
		}
		if e.IsDir() || e.Attr&AttrReadOnly != 0 || e.dirSector == 0 {
			return nil, checkpoint.Mark(ErrDenied)
		}
	}

	return &File{
		vol:          v,
		mode:         mode,
		startCluster: e.Cluster,
		sectorsLeft:  1,
		size:         e.Size,
		dirSector:    e.dirSector,
		dirIndex:     e.dirIndex,
	}, nil
}

// Size returns the current file size.
func (f *File) Size() int64 {
	return int64(f.size)
}

// Offset returns the current read/write position.
func (f *File) Offset() int64 {
	return int64(f.offset)
}

// check validates the handle before an operation in the given mode.
func (f *File) check(mode Mode) error {
	if f.vol == nil {
		return checkpoint.Mark(ErrInvalidObject)
	}
	if f.failed {
		return checkpoint.Mark(ErrIO)
	}
	if f.mode&mode == 0 {
		return checkpoint.Mark(ErrDenied)
	}
	return nil
}

// fail marks the handle as broken.
func (f *File) fail(cause error) error {
	f.failed = true
	if cause == nil {
		return checkpoint.Mark(ErrIO)
	}
	return checkpoint.Wrap(cause, ErrIO)
}

// Read reads up to len(p) bytes, never beyond the end of the file.
func (f *File) Read(p []byte) (int, error) {
	if err := f.check(ModeRead); err != nil {
		return 0, err
	}

	remain := f.size - f.offset
	if remain == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if uint64(len(p)) > uint64(remain) {
		p = p[:remain]
	}

	v := f.vol
	n := 0
	for n < len(p) {
		left := p[n:]

		if f.offset%SectorSize == 0 {
			sector, err := f.nextSector(false)
			if err != nil {
				return n, err
			}

			if err := v.win.move(v, 0); err != nil {
				return n, f.fail(err)
			}
			f.sector = sector

			if len(left) >= SectorSize {
				if err := v.dev.ReadBlock(sector, left[:SectorSize]); err != nil {
					return n, f.fail(err)
				}
				n += SectorSize
				f.offset += SectorSize
				continue
			}
		}

		if err := v.win.move(v, f.sector); err != nil {
			return n, f.fail(err)
		}
		inSector := f.offset % SectorSize
		count := copy(left, v.win.buf[inSector:])
		n += count
		f.offset += uint32(count)
	}
	return n, nil
}

// nextSector returns the sector following the current one, stepping to the
// next cluster when the current one is used up. With extend the chain is
// grown as needed; a full volume is reported as sector 0 without error.
func (f *File) nextSector(extend bool) (uint32, error) {
	f.sectorsLeft--
	if f.sectorsLeft != 0 {
		return f.sector + 1, nil
	}

	v := f.vol
	var (
		cluster uint32
		err     error
	)
	switch {
	case f.offset == 0 && (f.startCluster != 0 || !extend):
		cluster = f.startCluster
	case extend && f.offset == 0:
		cluster, err = v.createChain(0)
		f.startCluster = cluster
	case extend:
		cluster, err = v.createChain(f.cluster)
	default:
		cluster, err = v.NextCluster(f.cluster)
	}
	if err != nil {
		return 0, f.fail(err)
	}
	if extend && cluster == 0 {
		// Keep the handle usable, the next write retries the allocation.
		f.sectorsLeft = 1
		return 0, nil
	}
	if !v.validCluster(cluster) {
		return 0, f.fail(nil)
	}

	f.cluster = cluster
	f.sectorsLeft = v.csize
	return v.ClusterToSector(cluster), nil
}

// Write writes p at the current position, allocating clusters as needed. If
// the volume runs full it returns the bytes written so far and ErrDiskFull.
func (f *File) Write(p []byte) (int, error) {
	if err := f.check(ModeWrite); err != nil {
		return 0, err
	}
	if uint64(f.offset)+uint64(len(p)) > math.MaxUint32 {
		return 0, checkpoint.Mark(ErrDiskFull)
	}

	v := f.vol
	n := 0
	var full bool
	for n < len(p) {
		left := p[n:]

		if f.offset%SectorSize == 0 {
			sector, err := f.nextSector(true)
			if err != nil {
				return n, err
			}
			if sector == 0 {
				full = true
				break
			}

			if err := v.win.move(v, 0); err != nil {
				return n, f.fail(err)
			}
			f.sector = sector

			if len(left) >= SectorSize {
				if v.win.sect == sector && v.win.owner == v {
					v.win.invalidate()
				}
				if err := v.dev.WriteBlock(sector, left[:SectorSize]); err != nil {
					return n, f.fail(err)
				}
				n += SectorSize
				f.offset += SectorSize
				continue
			}
		}

		if err := v.win.move(v, f.sector); err != nil {
			return n, f.fail(err)
		}
		inSector := f.offset % SectorSize
		count := copy(v.win.buf[inSector:], left)
		v.win.markDirty()
		n += count
		f.offset += uint32(count)
	}

	if f.offset > f.size {
		f.size = f.offset
	}
	if n > 0 {
		f.written = true
	}
	if full {
		return n, checkpoint.Mark(ErrDiskFull)
	}
	return n, nil
}

// Seek moves the position by walking the cluster chain from the start. In
// read mode the position is clamped to the file size. In write mode seeking
// past the end extends the chain and the file.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.vol == nil {
		return 0, checkpoint.Mark(ErrInvalidObject)
	}
	if f.failed {
		return 0, checkpoint.Mark(ErrIO)
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += int64(f.offset)
	case io.SeekEnd:
		offset += int64(f.size)
	default:
		return int64(f.offset), checkpoint.Wrap(syscall.EINVAL, fmt.Errorf("%w, offset: %v, whence: %v", ErrInvalidObject, offset, whence))
	}
	if offset < 0 || offset > math.MaxUint32 {
		return int64(f.offset), checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrInvalidObject, offset, whence))
	}

	v := f.vol
	if err := v.win.move(v, 0); err != nil {
		return int64(f.offset), f.fail(err)
	}

	extend := f.mode&ModeWrite != 0
	target := uint32(offset)
	if !extend && target > f.size {
		target = f.size
	}

	f.offset = 0
	f.sectorsLeft = 1
	if target == 0 {
		return 0, nil
	}

	cluster := f.startCluster
	if cluster == 0 {
		if !extend {
			return 0, nil
		}
		c, err := v.createChain(0)
		if err != nil {
			return 0, f.fail(err)
		}
		if c == 0 {
			return 0, checkpoint.Mark(ErrDiskFull)
		}
		f.startCluster = c
		f.written = true
		cluster = c
	}

	var full bool
	clusterBytes := v.csize * SectorSize
	for {
		f.cluster = cluster
		if target <= clusterBytes {
			break
		}

		var err error
		if extend {
			cluster, err = v.createChain(cluster)
		} else {
			cluster, err = v.NextCluster(cluster)
		}
		if err != nil {
			return int64(f.offset), f.fail(err)
		}
		if extend && cluster == 0 {
			target = clusterBytes
			full = true
			break
		}
		if !v.validCluster(cluster) {
			return int64(f.offset), f.fail(nil)
		}
		f.offset += clusterBytes
		target -= clusterBytes
	}

	inCluster := (target - 1) / SectorSize
	f.sector = v.ClusterToSector(f.cluster) + inCluster
	f.sectorsLeft = v.csize - inCluster
	f.offset += target

	if f.offset > f.size {
		f.size = f.offset
		f.written = true
	}
	if full {
		return int64(f.offset), checkpoint.Mark(ErrDiskFull)
	}
	return int64(f.offset), nil
}

// Sync writes back cached data and updates the directory entry of a written
// file: size, start cluster, modification time and the archive bit.
func (f *File) Sync() error {
	if f.vol == nil {
		return checkpoint.Mark(ErrInvalidObject)
	}
	if !f.written {
		return nil
	}

	v := f.vol
	if err := v.win.move(v, 0); err != nil {
		return err
	}
	if err := v.win.move(v, f.dirSector); err != nil {
		return err
	}

	raw := entryAt(v.win.buf[:], f.dirIndex)
	raw[dirAttr] |= AttrArchive
	raw.putU32(dirFileSize, f.size)
	raw.putU16(dirFstClusLO, uint16(f.startCluster))
	raw.putU16(dirFstClusHI, uint16(f.startCluster>>16))
	date, tod := EncodeTimestamp(v.clock())
	raw.putU16(dirWrtTime, tod)
	raw.putU16(dirWrtDate, date)
	v.win.markDirty()

	f.written = false
	return v.Sync()
}

// Close syncs a written file and invalidates the handle.
func (f *File) Close() error {
	if err := f.Sync(); err != nil {
		return err
	}
	f.vol = nil
	return nil
}
