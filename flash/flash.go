// Package flash rewrites on-chip program memory from a stream of fixed size
// blocks.
//
// Program memory is erased and written one page at a time through the Memory
// capability. Pages are always programmed in the same order: erase, wait,
// fill the page buffer, write, wait. There is no rollback; an interrupted
// sequence leaves a mix of old pages, erased pages and new pages which has
// to be detected by verifying the whole image afterwards.
package flash

import "errors"

// BlockSize is the length of the chunks read from the image stream.
const BlockSize = 512

// NearLimit is the first address not reachable with 16 bit addressing.
const NearLimit = 0x10000

var (
	// ErrBusyTimeout is returned when a page operation did not finish within
	// the busy polling budget.
	ErrBusyTimeout = errors.New("flash busy polling budget exhausted")
	// ErrShortImage is returned when the image stream ended before the
	// announced length.
	ErrShortImage = errors.New("image stream shorter than announced")
	// ErrPageSize is returned for page sizes that do not divide BlockSize.
	ErrPageSize = errors.New("page size must divide the block size")
	// ErrLength is returned for image lengths that are no multiple of
	// BlockSize or exceed the memory.
	ErrLength = errors.New("invalid image length")
)

// Reader reads back program memory. Addresses below NearLimit can be read
// with the cheaper near access, all others need the far access.
type Reader interface {
	ReadNear(addr uint16) byte
	ReadFar(addr uint32) byte
}

// Memory is self programmable program memory.
type Memory interface {
	Reader

	// PageSize returns the length of an erase and write page.
	PageSize() int
	// ErasePage starts erasing the page at addr.
	ErasePage(addr uint32) error
	// FillPage loads data into the page buffer at the page offset of addr.
	FillPage(addr uint32, data []byte) error
	// WritePage starts programming the page buffer into the page at addr.
	WritePage(addr uint32) error
	// Busy reports whether the last erase or write is still running.
	Busy() bool
	// EnableReadWhileWrite makes the application section readable again
	// once programming is done.
	EnableReadWhileWrite() error
}

// Read copies program memory starting at addr into p.
func Read(r Reader, addr uint32, p []byte) {
	for i := range p {
		a := addr + uint32(i)
		if a < NearLimit {
			p[i] = r.ReadNear(uint16(a))
		} else {
			p[i] = r.ReadFar(a)
		}
	}
}
