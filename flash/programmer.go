package flash

import (
	"fmt"
	"io"

	"github.com/aligator/sdboot/checkpoint"
)

// Programmer writes images into a Memory.
type Programmer struct {
	mem    Memory
	config Config
}

// New creates a Programmer for mem.
func New(mem Memory, opts ...Option) *Programmer {
	if mem == nil {
		panic("memory cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		mem:    mem,
		config: cfg,
	}
}

// Program reads length bytes from src in blocks of BlockSize and programs
// them from address 0 on. Only one block is held in memory at a time.
func (p *Programmer) Program(src io.Reader, length uint32) error {
	pageSize := p.mem.PageSize()
	if pageSize <= 0 || pageSize > BlockSize || BlockSize%pageSize != 0 {
		return checkpoint.Wrap(fmt.Errorf("page size %d", pageSize), ErrPageSize)
	}
	if length == 0 || length%BlockSize != 0 {
		return checkpoint.Wrap(fmt.Errorf("length %d", length), ErrLength)
	}

	blocks := int(length / BlockSize)
	block := make([]byte, BlockSize)
	for i := 0; i < blocks; i++ {
		if p.config.Progress != nil {
			p.config.Progress(i, blocks)
		}

		if _, err := io.ReadFull(src, block); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return checkpoint.Wrap(fmt.Errorf("block %d of %d", i, blocks), ErrShortImage)
			}
			return checkpoint.From(err)
		}

		base := uint32(i) * BlockSize
		for off := 0; off < BlockSize; off += pageSize {
			if err := p.programPage(base+uint32(off), block[off:off+pageSize]); err != nil {
				return err
			}
		}
	}

	return checkpoint.From(p.mem.EnableReadWhileWrite())
}

func (p *Programmer) programPage(addr uint32, data []byte) error {
	if err := p.mem.ErasePage(addr); err != nil {
		return checkpoint.Wrap(err, fmt.Errorf("erase page 0x%05x", addr))
	}
	if err := p.wait(); err != nil {
		return err
	}
	if err := p.mem.FillPage(addr, data); err != nil {
		return checkpoint.Wrap(err, fmt.Errorf("fill page 0x%05x", addr))
	}
	if err := p.mem.WritePage(addr); err != nil {
		return checkpoint.Wrap(err, fmt.Errorf("write page 0x%05x", addr))
	}
	return p.wait()
}

func (p *Programmer) wait() error {
	for i := 0; i < p.config.BusyPolls; i++ {
		if !p.mem.Busy() {
			return nil
		}
	}
	return checkpoint.Mark(ErrBusyTimeout)
}
