// Package blockdev provides fixed size sector access to disk image files.
package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aligator/sdboot/checkpoint"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// SectorSize of all images.
const SectorSize = 512

var (
	// ErrOutOfRange is returned for sectors beyond the end of the image.
	ErrOutOfRange = errors.New("sector out of range")
	// ErrReadOnly is returned when writing to an image opened read-only.
	ErrReadOnly = errors.New("image is read-only")
	// ErrBufferSize is returned for buffers smaller than a sector.
	ErrBufferSize = errors.New("buffer smaller than a sector")
)

// Backing is the storage of an image.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// Image is a disk image accessed sector by sector. Trailing bytes not
// filling a whole sector are not accessible.
type Image struct {
	backing  Backing
	sectors  uint32
	readOnly bool
	file     afero.File
}

// New returns an image of size bytes stored in backing.
func New(backing Backing, size int64, readOnly bool) *Image {
	sectors := size / SectorSize
	if sectors > int64(^uint32(0)) {
		sectors = int64(^uint32(0))
	}
	return &Image{
		backing:  backing,
		sectors:  uint32(sectors),
		readOnly: readOnly,
	}
}

// Open opens the image file at path on fs.
func Open(fs afero.Fs, path string, readOnly bool) (*Image, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := fs.OpenFile(path, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, checkpoint.From(multierr.Append(err, f.Close()))
	}

	img := New(f, info.Size(), readOnly)
	img.file = f
	return img, nil
}

// Sectors returns the number of whole sectors of the image.
func (img *Image) Sectors() uint32 {
	return img.sectors
}

func (img *Image) check(sector uint32, buf []byte) error {
	if sector >= img.sectors {
		return checkpoint.Wrap(fmt.Errorf("sector %d of %d", sector, img.sectors), ErrOutOfRange)
	}
	if len(buf) < SectorSize {
		return checkpoint.Mark(ErrBufferSize)
	}
	return nil
}

// ReadBlock reads one sector into dst.
func (img *Image) ReadBlock(sector uint32, dst []byte) error {
	if err := img.check(sector, dst); err != nil {
		return err
	}
	n, err := img.backing.ReadAt(dst[:SectorSize], int64(sector)*SectorSize)
	if n == SectorSize {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.From(err)
}

// WriteBlock writes one sector from src.
func (img *Image) WriteBlock(sector uint32, src []byte) error {
	if img.readOnly {
		return checkpoint.Mark(ErrReadOnly)
	}
	if err := img.check(sector, src); err != nil {
		return err
	}
	_, err := img.backing.WriteAt(src[:SectorSize], int64(sector)*SectorSize)
	return checkpoint.From(err)
}

// WriteProtected reports whether the image was opened read-only.
func (img *Image) WriteProtected() bool {
	return img.readOnly
}

// Sync commits written sectors to stable storage if the image is a file.
func (img *Image) Sync() error {
	if img.file == nil || img.readOnly {
		return nil
	}
	return checkpoint.From(img.file.Sync())
}

// Close syncs and closes an image opened with Open.
func (img *Image) Close() (err error) {
	if img.file == nil {
		return nil
	}
	err = multierr.Append(img.Sync(), img.file.Close())
	img.file = nil
	return err
}
