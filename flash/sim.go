package flash

import (
	"errors"
	"fmt"

	"github.com/aligator/sdboot/checkpoint"
)

var (
	// ErrPowerLost is returned by a Sim after its injected power failure.
	ErrPowerLost = errors.New("power lost")
	// ErrAddress is returned by a Sim for misaligned or out of range addresses.
	ErrAddress = errors.New("invalid flash address")
)

// Sim is program memory held in a byte slice. Its exported fields may be
// changed between operations to inject faults.
type Sim struct {
	// BusyPolls is the number of Busy calls reporting true after every
	// erase and every write.
	BusyPolls int

	mem      []byte
	pageSize int
	buf      []byte
	busy     int
	failAt   int
	failed   bool

	erases int
	writes int
	rww    bool
}

// NewSim returns an erased memory of size bytes.
func NewSim(size, pageSize int) *Sim {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return LoadSim(mem, pageSize)
}

// LoadSim returns a memory holding mem. The slice is used directly.
func LoadSim(mem []byte, pageSize int) *Sim {
	s := &Sim{
		mem:      mem,
		pageSize: pageSize,
		buf:      make([]byte, pageSize),
		failAt:   -1,
	}
	s.clearBuffer()
	return s
}

// Bytes returns the memory content.
func (s *Sim) Bytes() []byte {
	return s.mem
}

// Erases returns the number of erased pages.
func (s *Sim) Erases() int {
	return s.erases
}

// Writes returns the number of written pages.
func (s *Sim) Writes() int {
	return s.writes
}

// ReadWhileWrite reports whether the application section was re-enabled
// after the last programming sequence.
func (s *Sim) ReadWhileWrite() bool {
	return s.rww
}

// FailAfter makes the power fail once n more pages have been written. The
// erase of the next page still clears it, then every operation fails until
// Restore.
func (s *Sim) FailAfter(n int) {
	s.failAt = s.writes + n
}

// Restore ends an injected power failure.
func (s *Sim) Restore() {
	s.failed = false
	s.failAt = -1
	s.busy = 0
	s.clearBuffer()
}

func (s *Sim) clearBuffer() {
	for i := range s.buf {
		s.buf[i] = 0xFF
	}
}

func (s *Sim) page(addr uint32) (int, error) {
	if s.failed {
		return 0, checkpoint.Mark(ErrPowerLost)
	}
	if int(addr) >= len(s.mem) {
		return 0, checkpoint.Wrap(fmt.Errorf("address 0x%05x beyond 0x%05x", addr, len(s.mem)), ErrAddress)
	}
	return int(addr) / s.pageSize * s.pageSize, nil
}

func (s *Sim) PageSize() int {
	return s.pageSize
}

func (s *Sim) ErasePage(addr uint32) error {
	start, err := s.page(addr)
	if err != nil {
		return err
	}
	if int(addr) != start {
		return checkpoint.Wrap(fmt.Errorf("address 0x%05x not page aligned", addr), ErrAddress)
	}

	for i := start; i < start+s.pageSize; i++ {
		s.mem[i] = 0xFF
	}
	s.erases++
	s.rww = false
	s.busy = s.BusyPolls

	if s.failAt >= 0 && s.writes >= s.failAt {
		s.failed = true
		return checkpoint.Mark(ErrPowerLost)
	}
	return nil
}

func (s *Sim) FillPage(addr uint32, data []byte) error {
	start, err := s.page(addr)
	if err != nil {
		return err
	}
	off := int(addr) - start
	if off+len(data) > s.pageSize {
		return checkpoint.Wrap(fmt.Errorf("%d bytes at page offset %d", len(data), off), ErrAddress)
	}
	copy(s.buf[off:], data)
	return nil
}

func (s *Sim) WritePage(addr uint32) error {
	start, err := s.page(addr)
	if err != nil {
		return err
	}
	// Programming can only clear bits.
	for i, b := range s.buf {
		s.mem[start+i] &= b
	}
	s.clearBuffer()
	s.writes++
	s.busy = s.BusyPolls
	return nil
}

func (s *Sim) Busy() bool {
	if s.busy > 0 {
		s.busy--
		return true
	}
	return false
}

func (s *Sim) EnableReadWhileWrite() error {
	if s.failed {
		return checkpoint.Mark(ErrPowerLost)
	}
	s.rww = true
	return nil
}

func (s *Sim) ReadNear(addr uint16) byte {
	return s.ReadFar(uint32(addr))
}

func (s *Sim) ReadFar(addr uint32) byte {
	if int(addr) >= len(s.mem) {
		return 0xFF
	}
	return s.mem[addr]
}
