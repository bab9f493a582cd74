// Package boot runs the update cycle of the bootloader.
//
// Every cycle searches the root directory of the card for a file exactly as
// long as an application image. A file is accepted when its CRC residue is
// zero, its device id matches the board and it is newer than the resident
// application. The first accepted file is flashed. Afterwards the resident
// application is verified and started. A corrupted application is signalled
// by blinking the ok indicator, then the next cycle starts over.
package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aligator/sdboot/board"
	"github.com/aligator/sdboot/bootinfo"
	"github.com/aligator/sdboot/checkpoint"
	"github.com/aligator/sdboot/crc"
	"github.com/aligator/sdboot/fat"
	"github.com/aligator/sdboot/flash"
	"github.com/sirupsen/logrus"
)

// Error pattern shown for a corrupted application.
const (
	Blinks      = 10
	BlinkPeriod = 100 * time.Millisecond
)

var (
	// ErrChecksum rejects a candidate whose CRC residue is not zero.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrDeviceMismatch rejects a candidate built for another device.
	ErrDeviceMismatch = errors.New("device id mismatch")
	// ErrNotNewer rejects a candidate that would not change the application.
	ErrNotNewer = errors.New("not newer than the resident application")
)

// Loader updates and starts the application of one board.
type Loader struct {
	card   fat.BlockDevice
	mem    flash.Memory
	board  board.Board
	ind    Indicator
	config Config

	// win is the only sector buffer, shared by every mount.
	win   *fat.Window
	block []byte

	cycle int
	log   logrus.FieldLogger
}

// New creates a loader for the board b which reads updates from card and
// programs mem. ind may be nil.
func New(card fat.BlockDevice, mem flash.Memory, b board.Board, ind Indicator, opts ...Option) (*Loader, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, errors.New("memory cannot be nil")
	}
	if mem.PageSize() != int(b.Chip.PageSize) {
		return nil, checkpoint.Wrap(fmt.Errorf("memory page size %d, chip page size %d", mem.PageSize(), b.Chip.PageSize), board.ErrInvalid)
	}
	if ind == nil {
		ind = nopIndicator{}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Loader{
		card:   card,
		mem:    mem,
		board:  b,
		ind:    ind,
		config: cfg,
		win:    fat.NewWindow(),
		block:  make([]byte, flash.BlockSize),
		log:    cfg.Logger.WithField("cycle", 0),
	}, nil
}

// Run turns the ok indicator on and repeats boot cycles until the resident
// application is valid. It then releases the indicator and calls start. Run
// only returns early if ctx is done.
func (l *Loader) Run(ctx context.Context, start func()) error {
	l.ind.SetOK(true)
	l.ind.SetAttention(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Cycle() {
			start()
			return nil
		}
	}
}

// Cycle runs a single boot cycle. It reports whether the application can be
// started, in which case the indicator has already been released.
func (l *Loader) Cycle() bool {
	l.cycle++
	l.log = l.config.Logger.WithField("cycle", l.cycle)

	if _, err := l.TryUpdate(); err != nil {
		l.log.WithError(err).Warn("flashing failed")
	}
	return l.TryStart()
}

// TryUpdate flashes the first acceptable image of the card. It reports
// whether the flash was reprogrammed. A missing card, a missing volume and
// rejected files are no error; only a failure while flashing is returned.
func (l *Loader) TryUpdate() (bool, error) {
	l.ind.SetAttention(true)
	defer l.ind.SetAttention(false)

	v, err := fat.Mount(l.card,
		fat.WithWindow(l.win),
		fat.WithPartition(l.config.Partition),
		fat.WithReadOnly(),
	)
	if err != nil {
		l.log.WithError(err).WithField("outcome", "no volume").Debug("no update")
		return false, nil
	}

	length := l.board.ImageLength()
	dir := v.OpenRoot()
	for {
		entry, err := dir.Next()
		if err == io.EOF {
			l.log.WithField("outcome", "no candidate").Debug("no update")
			return false, nil
		}
		if err != nil {
			l.log.WithError(err).WithField("outcome", "directory unreadable").Debug("no update")
			return false, nil
		}
		if entry.Size != length {
			continue
		}

		log := l.log.WithField("size", entry.Size)
		footer, err := l.Validate(v, entry)
		if err == nil && !l.Accept(footer) {
			err = checkpoint.Mark(ErrNotNewer)
		}
		if err != nil {
			log.WithError(err).WithField("outcome", "rejected").Debug("candidate skipped")
			continue
		}

		log = log.WithFields(logrus.Fields{
			"version":   footer.Version,
			"device_id": fmt.Sprintf("0x%08x", footer.DeviceID),
		})
		if err := l.program(v, entry); err != nil {
			log.WithField("outcome", "failed").Warn("update interrupted")
			return false, err
		}
		log.WithField("outcome", "flashed").Info("application updated")
		return true, nil
	}
}

// Validate streams the file of e through the CRC and checks the residue and
// the device id of its footer.
func (l *Loader) Validate(v *fat.Volume, e fat.Entry) (bootinfo.Footer, error) {
	if e.Size < bootinfo.Size || e.Size%flash.BlockSize != 0 {
		return bootinfo.Footer{}, checkpoint.Mark(ErrChecksum)
	}

	f, err := v.Open(e, fat.ModeRead)
	if err != nil {
		return bootinfo.Footer{}, err
	}

	sum := crc.New()
	for remain := e.Size / flash.BlockSize; remain > 0; remain-- {
		if _, err := io.ReadFull(f, l.block); err != nil {
			return bootinfo.Footer{}, checkpoint.From(err)
		}
		_, _ = sum.Write(l.block)
	}
	if sum.Sum16() != 0 {
		return bootinfo.Footer{}, checkpoint.Wrap(fmt.Errorf("residue 0x%04x", sum.Sum16()), ErrChecksum)
	}

	footer := bootinfo.Decode(l.block[flash.BlockSize-bootinfo.Size:])
	if footer.DeviceID != l.board.DeviceID {
		return footer, checkpoint.Wrap(fmt.Errorf("image 0x%08x, board 0x%08x", footer.DeviceID, l.board.DeviceID), ErrDeviceMismatch)
	}
	return footer, nil
}

// Resident returns the footer of the application in flash.
func (l *Loader) Resident() bootinfo.Footer {
	var raw [bootinfo.Size]byte
	flash.Read(l.mem, l.board.ImageLength()-bootinfo.Size, raw[:])
	return bootinfo.Decode(raw[:])
}

// Accept applies the update policy to a validated candidate. Development
// builds are accepted unless their CRC equals the resident one, release
// builds need a version above the resident one. Erased flash accepts any
// image.
func (l *Loader) Accept(candidate bootinfo.Footer) bool {
	resident := l.Resident()
	if candidate.IsDevelopment() && candidate.CRC != resident.CRC {
		return true
	}
	return resident.Version == bootinfo.VersionErased || candidate.Version > resident.Version
}

func (l *Loader) program(v *fat.Volume, e fat.Entry) error {
	f, err := v.Open(e, fat.ModeRead)
	if err != nil {
		return err
	}

	opts := append(append([]flash.Option{}, l.config.FlashOptions...),
		flash.WithProgress(func(block, blocks int) {
			l.ind.SetAttention((blocks-1-block)&1 == 1)
		}),
	)
	return flash.New(l.mem, opts...).Program(f, e.Size)
}

// Verify reports whether the CRC residue over the resident application is
// zero. Memory beyond 64K is read in a second pass with far addressing.
func (l *Loader) Verify() bool {
	length := l.board.ImageLength()
	sum := crc.New()

	var buf [256]byte
	n := 0
	add := func(b byte) {
		buf[n] = b
		n++
		if n == len(buf) {
			_, _ = sum.Write(buf[:])
			n = 0
		}
	}

	near := length
	if near > flash.NearLimit {
		near = flash.NearLimit
	}
	for addr := uint32(0); addr < near; addr++ {
		add(l.mem.ReadNear(uint16(addr)))
	}
	for addr := uint32(flash.NearLimit); addr < length; addr++ {
		add(l.mem.ReadFar(addr))
	}
	_, _ = sum.Write(buf[:n])

	return sum.Sum16() == 0
}

// TryStart verifies the resident application. If it is valid the card and
// the indicator are released and true is returned. Otherwise the ok indicator blinks the
// error pattern.
func (l *Loader) TryStart() bool {
	if l.Verify() {
		l.log.WithField("outcome", "valid").Info("starting application")
		if r, ok := l.card.(fat.Releaser); ok {
			r.Release()
		}
		l.ind.Release()
		return true
	}

	l.log.WithField("outcome", "corrupted").Warn("resident application corrupted")
	for i := 0; i < Blinks; i++ {
		l.ind.SetOK(false)
		l.config.Sleep(BlinkPeriod)
		l.ind.SetOK(true)
		l.config.Sleep(BlinkPeriod)
	}
	return false
}
