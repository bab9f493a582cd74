// Package sdcard drives an MMC, SD or SDHC card in SPI mode.
//
// The driver only needs a Bus capability able to toggle the select line,
// exchange single bytes and switch between the slow identification clock and
// the fast transfer clock. Every wait on the card is a polling loop with a
// fixed iteration budget; there is no wall clock involved. Exhausting a
// budget is reported as ErrExhausted.
package sdcard

import (
	"encoding/binary"
	"errors"

	"github.com/aligator/sdboot/checkpoint"
)

// BlockSize is the only block length the driver uses.
const BlockSize = 512

var (
	// ErrNotReady is returned when the card could not be initialized, and by
	// transfers attempted before a successful Initialize.
	ErrNotReady = errors.New("card not ready")
	// ErrExhausted is returned when a polling budget ran out.
	ErrExhausted = errors.New("polling budget exhausted")
	// ErrRejected is returned when the card answered a command with an error status.
	ErrRejected = errors.New("command rejected")
	// ErrWriteFailed is returned when the card did not accept a data block.
	ErrWriteFailed = errors.New("data block not accepted")
	// ErrBufferSize is returned for transfer buffers that are not BlockSize long.
	ErrBufferSize = errors.New("buffer must hold exactly one block")
)

// Bus is the hardware capability the driver runs on. One implementation
// exists per target chip.
type Bus interface {
	// Select drives the chip select line. true selects the card (line low).
	Select(selected bool)
	// Exchange clocks out one byte and returns the byte clocked in.
	Exchange(out byte) byte
	// SetSpeed switches between the identification clock (false) and the
	// transfer clock (true).
	SetSpeed(fast bool)
}

// Card is a single SPI-attached memory card.
type Card struct {
	bus          Bus
	cfg          Config
	ready        bool
	highCapacity bool
	sdCard       bool
	ocr          uint32
}

// New creates a Card on bus. It does not talk to the card yet.
func New(bus Bus, opts ...Option) *Card {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Card{
		bus: bus,
		cfg: cfg,
	}
}

// Ready reports whether the last Initialize succeeded.
func (c *Card) Ready() bool {
	return c.ready
}

// HighCapacity reports whether the card uses block addressing.
func (c *Card) HighCapacity() bool {
	return c.highCapacity
}

// IsSD reports whether the card completed the SD specific initialization.
// MMC cards and SD cards that rejected the application command report false.
func (c *Card) IsSD() bool {
	return c.sdCard
}

// Release deselects the card and returns the bus to the identification
// clock. The card needs another Initialize before the next transfer.
func (c *Card) Release() {
	c.bus.Select(false)
	c.bus.SetSpeed(false)
	c.ready = false
}

// sendCommand selects the card, sends a command frame and polls for the R1
// response. The card stays selected so that the caller can read trailing
// response bytes.
func (c *Card) sendCommand(index byte, arg uint32) (byte, error) {
	frame := Frame(index, arg)

	c.bus.Select(true)
	for _, b := range frame {
		c.bus.Exchange(b)
	}

	var res byte
	for polls := c.cfg.ResponsePolls; polls > 0; polls-- {
		res = c.bus.Exchange(0xFF)
		if res&0x80 == 0 {
			return res, nil
		}
	}
	return res, checkpoint.Mark(ErrExhausted)
}

// readLong reads the four trailing bytes of an R3/R7 response.
func (c *Card) readLong() uint32 {
	var b [4]byte
	for i := range b {
		b[i] = c.bus.Exchange(0xFF)
	}
	return binary.BigEndian.Uint32(b[:])
}

// deselect releases the card and gives it the clocks it needs to release
// the data line.
func (c *Card) deselect() {
	c.bus.Select(false)
	c.bus.Exchange(0xFF)
	c.bus.Exchange(0xFF)
	c.bus.Exchange(0xFF)
}

// Initialize runs the card bring-up sequence: reset to idle state, probe the
// interface condition, the SD initialization loop with a fallback to the
// legacy MMC one, capacity detection and block length setup.
func (c *Card) Initialize() error {
	c.ready = false
	c.bus.SetSpeed(false)

	if err := c.goIdle(); err != nil {
		return err
	}

	// Required for SDHC cards. Cards that do not know the command answer
	// with an illegal command status, which is fine.
	if res, err := c.sendCommand(CmdSendIfCond, IfCondArgument); err == nil && res == StatusIdle {
		c.readLong()
	}
	c.deselect()

	c.sdCard = c.initSD()
	if c.sdCard {
		c.detectCapacity()
	}

	// MMC cards initialize here, SD cards are already done and answer 0.
	res, err := c.pollInit(func() (byte, error) {
		res, err := c.sendCommand(CmdSendOpCond, OCRHighCapacity)
		c.deselect()
		return res, err
	})
	if err != nil {
		return checkpoint.Wrap(err, ErrNotReady)
	}
	if res == StatusIdle {
		return checkpoint.Wrap(checkpoint.Mark(ErrExhausted), ErrNotReady)
	}
	if res != 0 {
		return checkpoint.Wrap(&StatusError{Command: CmdSendOpCond, Status: res}, ErrNotReady)
	}

	res, err = c.sendCommand(CmdSetBlockLen, BlockSize)
	c.deselect()
	if err != nil {
		return checkpoint.Wrap(err, ErrNotReady)
	}
	if res != 0 {
		return checkpoint.Wrap(checkpoint.Mark(ErrRejected), ErrNotReady)
	}

	if c.cfg.SupplyVoltage != 0 && c.ocr != 0 && c.ocr&c.cfg.SupplyVoltage == 0 {
		return checkpoint.Wrap(checkpoint.Mark(ErrRejected), ErrNotReady)
	}

	c.bus.SetSpeed(true)
	c.ready = true
	return nil
}

func (c *Card) goIdle() error {
	for tries := c.cfg.IdleRetries; ; {
		c.highCapacity = false
		c.ocr = 0

		// At least 74 clocks with the card deselected.
		c.bus.Select(false)
		for i := 0; i < 10; i++ {
			c.bus.Exchange(0xFF)
		}

		res, err := c.sendCommand(CmdGoIdleState, 0)
		c.deselect()
		if err != nil {
			return checkpoint.Wrap(err, ErrNotReady)
		}
		if res == StatusIdle {
			return nil
		}

		tries--
		if tries <= 0 {
			return checkpoint.Wrap(checkpoint.Mark(ErrRejected), ErrNotReady)
		}
	}
}

// initSD runs the ACMD41 loop. It reports false if the card is not an SD
// card or did not leave the idle state within the budget.
func (c *Card) initSD() bool {
	res, err := c.pollInit(func() (byte, error) {
		res, err := c.sendCommand(CmdAppCmd, 0)
		c.deselect()
		if err != nil {
			return res, err
		}
		if res != StatusIdle {
			return res, checkpoint.Mark(ErrRejected)
		}

		res, err = c.sendCommand(AppCmdSendOpCond, OCRHighCapacity)
		c.deselect()
		return res, err
	})
	return err == nil && res == 0
}

// pollInit repeats send until the card leaves the idle state, an error
// occurs or the init budget runs out. It returns the last response.
func (c *Card) pollInit(send func() (byte, error)) (byte, error) {
	var res byte
	var err error
	for tries := c.cfg.InitPolls; tries > 0; tries-- {
		res, err = send()
		if err != nil || res != StatusIdle {
			return res, err
		}
	}
	return res, nil
}

func (c *Card) detectCapacity() {
	res, err := c.sendCommand(CmdReadOCR, 0)
	if err == nil && res <= StatusIdle {
		c.ocr = c.readLong()
		c.highCapacity = c.ocr&OCRHighCapacity != 0
	}
	c.deselect()
}

// address converts a block number into the command argument.
func (c *Card) address(block uint32) uint32 {
	if c.highCapacity {
		return block
	}
	return block * BlockSize
}

// ReadBlock reads the block with the given number into dst. The data CRC is
// clocked out and discarded.
func (c *Card) ReadBlock(block uint32, dst []byte) error {
	if !c.ready {
		return checkpoint.Mark(ErrNotReady)
	}
	if len(dst) != BlockSize {
		return checkpoint.Mark(ErrBufferSize)
	}

	res, err := c.sendCommand(CmdReadSingle, c.address(block))
	if err != nil {
		c.deselect()
		return err
	}
	if res != 0 {
		c.deselect()
		return checkpoint.Wrap(&StatusError{Command: CmdReadSingle, Status: res}, ErrRejected)
	}

	if err := c.waitToken(); err != nil {
		c.deselect()
		return err
	}

	for i := range dst {
		dst[i] = c.bus.Exchange(0xFF)
	}
	c.bus.Exchange(0xFF)
	c.bus.Exchange(0xFF)

	c.deselect()
	return nil
}

func (c *Card) waitToken() error {
	for polls := c.cfg.TokenPolls; polls > 0; polls-- {
		if c.bus.Exchange(0xFF) == TokenStartBlock {
			return nil
		}
	}
	return checkpoint.Mark(ErrExhausted)
}

// WriteBlock writes src to the block with the given number and waits until
// the card finished programming it.
func (c *Card) WriteBlock(block uint32, src []byte) error {
	if !c.ready {
		return checkpoint.Mark(ErrNotReady)
	}
	if len(src) != BlockSize {
		return checkpoint.Mark(ErrBufferSize)
	}

	res, err := c.sendCommand(CmdWriteSingle, c.address(block))
	if err != nil {
		c.deselect()
		return err
	}
	if res != 0 {
		c.deselect()
		return checkpoint.Wrap(&StatusError{Command: CmdWriteSingle, Status: res}, ErrRejected)
	}

	c.bus.Exchange(0xFF)
	c.bus.Exchange(TokenStartBlock)
	for _, b := range src {
		c.bus.Exchange(b)
	}
	// CRC is ignored in SPI mode.
	c.bus.Exchange(0xFF)
	c.bus.Exchange(0xFF)

	if resp := c.bus.Exchange(0xFF) & DataResponseMask; resp != DataAccepted {
		c.deselect()
		return checkpoint.Wrap(&StatusError{Command: CmdWriteSingle, Status: resp}, ErrWriteFailed)
	}

	err = c.waitNotBusy()
	c.deselect()
	return err
}

// waitNotBusy polls while the card holds the data line low.
func (c *Card) waitNotBusy() error {
	for polls := c.cfg.BusyPolls; polls > 0; polls-- {
		if c.bus.Exchange(0xFF) != 0x00 {
			return nil
		}
	}
	return checkpoint.Mark(ErrExhausted)
}
