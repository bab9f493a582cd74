// Package sdsim simulates a memory card in SPI mode at the byte level. It
// implements sdcard.Bus and stores its blocks in any io.ReaderAt/io.WriterAt,
// usually a disk image file.
package sdsim

import (
	"encoding/binary"
	"io"

	"github.com/aligator/sdboot/sdcard"
)

// Kind selects the card generation to simulate.
type Kind int

const (
	// SDv2 is a standard capacity SD card that knows CMD8.
	SDv2 Kind = iota
	// SDHC is a block addressed high capacity card.
	SDHC
	// SDv1 is an old SD card that rejects CMD8.
	SDv1
	// MMC rejects application commands and initializes via CMD1.
	MMC
)

func (k Kind) String() string {
	switch k {
	case SDv2:
		return "SDv2"
	case SDHC:
		return "SDHC"
	case SDv1:
		return "SDv1"
	case MMC:
		return "MMC"
	}
	return "unknown"
}

// Storage is the backing store of a simulated card.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// Never makes a card stay in idle state forever.
const Never = -1

// OCRVoltageWindow is the 2.7-3.6V window every simulated card supports.
const OCRVoltageWindow = 0x00FF8000

type state int

const (
	stateCommand state = iota
	stateWriteToken
	stateWriteData
)

// Card is a simulated card. Its exported fields may be changed between
// commands to inject faults.
type Card struct {
	Kind Kind

	// InitPolls is the number of initialization commands (ACMD41 or CMD1)
	// the card needs before it leaves idle state. Never keeps it idle.
	InitPolls int

	// Silent makes the card ignore every command.
	Silent bool
	// ReadOnly makes the card refuse data blocks.
	ReadOnly bool
	// NoToken makes the card answer reads without ever sending the start token.
	NoToken bool
	// FailBlocks lists blocks whose reads and writes fail.
	FailBlocks map[uint32]bool
	// VoltageWindow overrides the OCR voltage window.
	VoltageWindow uint32

	store Storage
	size  int64

	selected bool
	fast     bool
	state    state

	frame  [sdcard.FrameSize]byte
	nframe int
	out    []byte

	idle        bool
	initialized bool
	appCmd      bool
	polls       int

	writeBlock uint32
	writeBuf   []byte

	stats Stats
}

// Stats counts what the card has been asked to do.
type Stats struct {
	Commands []byte
	Reads    []uint32
	Writes   []uint32
}

// New creates a card of the given kind with size bytes of capacity backed by store.
func New(kind Kind, store Storage, size int64) *Card {
	return &Card{
		Kind:      kind,
		InitPolls: 3,
		store:     store,
		size:      size,
	}
}

// Stats returns what the card did so far.
func (c *Card) Stats() Stats {
	return c.stats
}

// Fast reports the clock speed last requested by the host.
func (c *Card) Fast() bool {
	return c.fast
}

// Initialized reports whether the card left idle state.
func (c *Card) Initialized() bool {
	return c.initialized
}

// Selected reports the state of the select line.
func (c *Card) Selected() bool {
	return c.selected
}

func (c *Card) SetSpeed(fast bool) {
	c.fast = fast
}

func (c *Card) Select(selected bool) {
	if c.selected && !selected {
		// A transfer cut short by deselecting is lost.
		c.nframe = 0
		c.out = c.out[:0]
		if c.state != stateCommand {
			c.state = stateCommand
		}
	}
	c.selected = selected
}

func (c *Card) Exchange(in byte) byte {
	if !c.selected {
		return 0xFF
	}

	switch c.state {
	case stateWriteToken:
		if in == sdcard.TokenStartBlock {
			c.state = stateWriteData
			c.writeBuf = c.writeBuf[:0]
		}
		return c.pop()
	case stateWriteData:
		c.writeBuf = append(c.writeBuf, in)
		// Data block followed by two CRC bytes.
		if len(c.writeBuf) == sdcard.BlockSize+2 {
			c.state = stateCommand
			c.finishWrite()
		}
		return 0xFF
	}

	if c.nframe == 0 && in&0xC0 != 0x40 {
		return c.pop()
	}

	c.frame[c.nframe] = in
	c.nframe++
	if c.nframe == sdcard.FrameSize {
		c.nframe = 0
		c.out = c.out[:0]
		c.execute()
	}
	return 0xFF
}

func (c *Card) pop() byte {
	if len(c.out) == 0 {
		return 0xFF
	}
	b := c.out[0]
	c.out = c.out[1:]
	return b
}

func (c *Card) status() byte {
	if c.idle {
		return sdcard.StatusIdle
	}
	return 0
}

// respond queues an R1 response after one byte of command response delay.
func (c *Card) respond(r1 byte, extra ...byte) {
	c.out = append(c.out, 0xFF, r1)
	c.out = append(c.out, extra...)
}

func (c *Card) execute() {
	index := c.frame[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.frame[1:5])

	c.stats.Commands = append(c.stats.Commands, index)

	if c.Silent {
		return
	}

	// CRC is only checked before the card switched to SPI mode, which
	// covers CMD0 and CMD8.
	if (index == sdcard.CmdGoIdleState || index == sdcard.CmdSendIfCond) && c.frame[5] != sdcard.CommandCRC(c.frame[:5]) {
		c.respond(c.status() | sdcard.StatusCRCError)
		return
	}

	appCmd := c.appCmd
	c.appCmd = false

	switch {
	case index == sdcard.CmdGoIdleState:
		c.idle = true
		c.initialized = false
		c.polls = 0
		c.respond(sdcard.StatusIdle)

	case !c.idle && !c.initialized:
		// Not reset yet, the card is still in SD mode.
		return

	case index == sdcard.CmdSendIfCond:
		if c.Kind == SDv1 || c.Kind == MMC {
			c.respond(c.status() | sdcard.StatusIllegalCommand)
			return
		}
		// Echo voltage and check pattern.
		c.respond(c.status(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))

	case index == sdcard.CmdAppCmd:
		if c.Kind == MMC {
			c.respond(c.status() | sdcard.StatusIllegalCommand)
			return
		}
		c.appCmd = true
		c.respond(c.status())

	case appCmd && index == sdcard.AppCmdSendOpCond:
		if c.Kind == SDHC && arg&sdcard.OCRHighCapacity == 0 {
			c.respond(c.status())
			return
		}
		c.poll()
		c.respond(c.status())

	case index == sdcard.CmdSendOpCond:
		if c.Kind == MMC {
			c.poll()
		}
		c.respond(c.status())

	case index == sdcard.CmdReadOCR:
		ocr := uint32(0x80000000) | c.voltageWindow()
		if c.Kind == SDHC {
			ocr |= sdcard.OCRHighCapacity
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ocr)
		c.respond(c.status(), b[:]...)

	case !c.initialized:
		c.respond(c.status() | sdcard.StatusIllegalCommand)

	case index == sdcard.CmdSetBlockLen:
		if arg != sdcard.BlockSize {
			c.respond(sdcard.StatusParameterError)
			return
		}
		c.respond(0)

	case index == sdcard.CmdReadSingle:
		block, ok := c.block(arg)
		if !ok {
			c.respond(sdcard.StatusAddressError)
			return
		}
		c.read(block)

	case index == sdcard.CmdWriteSingle:
		block, ok := c.block(arg)
		if !ok {
			c.respond(sdcard.StatusAddressError)
			return
		}
		c.writeBlock = block
		c.state = stateWriteToken
		c.respond(0)

	default:
		c.respond(c.status() | sdcard.StatusIllegalCommand)
	}
}

func (c *Card) voltageWindow() uint32 {
	if c.VoltageWindow != 0 {
		return c.VoltageWindow
	}
	return OCRVoltageWindow
}

func (c *Card) poll() {
	if c.initialized {
		return
	}
	c.polls++
	if c.InitPolls != Never && c.polls >= c.InitPolls {
		c.idle = false
		c.initialized = true
	}
}

// block converts a command argument into a block number.
func (c *Card) block(arg uint32) (uint32, bool) {
	block := arg
	if c.Kind != SDHC {
		if arg%sdcard.BlockSize != 0 {
			return 0, false
		}
		block = arg / sdcard.BlockSize
	}
	if int64(block+1)*sdcard.BlockSize > c.size {
		return 0, false
	}
	return block, true
}

func (c *Card) read(block uint32) {
	c.stats.Reads = append(c.stats.Reads, block)

	data := make([]byte, sdcard.BlockSize)
	_, err := c.store.ReadAt(data, int64(block)*sdcard.BlockSize)
	if err == io.EOF {
		err = nil
	}

	if err != nil || c.FailBlocks[block] {
		// Data error token instead of a block.
		c.respond(0, 0xFF, 0x08)
		return
	}
	if c.NoToken {
		c.respond(0)
		return
	}

	c.respond(0, 0xFF, sdcard.TokenStartBlock)
	c.out = append(c.out, data...)
	c.out = append(c.out, 0x00, 0x00)
}

func (c *Card) finishWrite() {
	c.stats.Writes = append(c.stats.Writes, c.writeBlock)

	if c.ReadOnly || c.FailBlocks[c.writeBlock] {
		// Write error data response.
		c.out = append(c.out, 0xED)
		return
	}
	if _, err := c.store.WriteAt(c.writeBuf[:sdcard.BlockSize], int64(c.writeBlock)*sdcard.BlockSize); err != nil {
		c.out = append(c.out, 0xED)
		return
	}

	// Data accepted, then busy for two clocks.
	c.out = append(c.out, 0xE5, 0x00, 0x00)
}
