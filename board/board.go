// Package board holds the hardware parameters a bootloader is built for.
package board

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/aligator/sdboot/checkpoint"
)

// BlockSize is the unit images are read and flashed in.
const BlockSize = 512

// MaxImageLength is the largest image the verifier can address.
const MaxImageLength = 128 * 1024

// OCR voltage window bits accepted as SD supply voltage, 2.7V to 3.6V.
const (
	VoltageMinBit = 15
	VoltageMaxBit = 23
)

var (
	// ErrUnknownVariant is returned by Lookup for unknown hardware variants.
	ErrUnknownVariant = errors.New("unknown hardware variant")
	// ErrUnknownChip is returned by Lookup for unknown chips.
	ErrUnknownChip = errors.New("unknown chip")
	// ErrInvalid is returned by Validate for inconsistent parameters.
	ErrInvalid = errors.New("invalid board parameters")
)

// Chip is the program memory geometry of a microcontroller.
type Chip struct {
	Name string
	// FlashSize is the size of the program memory in bytes.
	FlashSize uint32
	// BootSize is the size of the boot section at the end of the memory.
	BootSize uint32
	// PageSize is the self programming page size in bytes.
	PageSize uint32
}

// ImageLength is the size of an application image, which fills the program
// memory below the boot section.
func (c Chip) ImageLength() uint32 {
	return c.FlashSize - c.BootSize
}

// Board is one hardware variant running on one chip.
type Board struct {
	Variant string
	// DeviceID has to match the device id of every update image.
	DeviceID uint32
	// SupplyVoltage is the OCR voltage window bit of the card supply.
	SupplyVoltage uint32
	Chip          Chip
}

func (b Board) String() string {
	return fmt.Sprintf("%s/%s (devid 0x%08x)", b.Variant, b.Chip.Name, b.DeviceID)
}

// ImageLength is the size of an update image for the board.
func (b Board) ImageLength() uint32 {
	return b.Chip.ImageLength()
}

// WithDeviceID returns a copy of b using id as device id.
func (b Board) WithDeviceID(id uint32) Board {
	b.DeviceID = id
	return b
}

// Validate checks that the parameters describe a board the loader can run on.
func (b Board) Validate() error {
	var problems []string

	if v := b.SupplyVoltage; bits.OnesCount32(v) != 1 || bits.TrailingZeros32(v) < VoltageMinBit || bits.TrailingZeros32(v) > VoltageMaxBit {
		problems = append(problems, fmt.Sprintf("supply voltage 0x%x is not a single OCR window bit", v))
	}

	c := b.Chip
	switch {
	case c.PageSize == 0 || c.PageSize > BlockSize || BlockSize%c.PageSize != 0:
		problems = append(problems, fmt.Sprintf("page size %d does not divide %d", c.PageSize, BlockSize))
	case c.BootSize%c.PageSize != 0:
		problems = append(problems, fmt.Sprintf("boot size %d is no multiple of the page size", c.BootSize))
	}
	if c.BootSize >= c.FlashSize {
		problems = append(problems, fmt.Sprintf("boot size %d leaves no room in %d bytes of flash", c.BootSize, c.FlashSize))
	} else {
		length := c.ImageLength()
		if length%BlockSize != 0 {
			problems = append(problems, fmt.Sprintf("image length %d is no multiple of %d", length, BlockSize))
		}
		if length > MaxImageLength {
			problems = append(problems, fmt.Sprintf("image length %d exceeds %d", length, MaxImageLength))
		}
	}

	if len(problems) > 0 {
		return checkpoint.Wrap(errors.New(strings.Join(problems, "; ")), ErrInvalid)
	}
	return nil
}

var variants = map[string]Board{
	// Commented example configuration with LEDs on port C.
	"example": {
		Variant:       "example",
		DeviceID:      0xdeadbeef,
		SupplyVoltage: 1 << 18,
	},
	// A78-SDCART with LEDs on port B.
	"a78-sdcart": {
		Variant:       "a78-sdcart",
		DeviceID:      0x54444921,
		SupplyVoltage: 1 << 18,
	},
}

var chips = map[string]Chip{
	"atmega644":   {Name: "atmega644", FlashSize: 64 * 1024, BootSize: 4096, PageSize: 256},
	"atmega644p":  {Name: "atmega644p", FlashSize: 64 * 1024, BootSize: 4096, PageSize: 256},
	"atmega1284p": {Name: "atmega1284p", FlashSize: 128 * 1024, BootSize: 4096, PageSize: 256},
	"atmega128":   {Name: "atmega128", FlashSize: 128 * 1024, BootSize: 4096, PageSize: 256},
	"atmega1281":  {Name: "atmega1281", FlashSize: 128 * 1024, BootSize: 4096, PageSize: 256},
}

// Lookup returns the board of a hardware variant on a chip.
func Lookup(variant, chip string) (Board, error) {
	b, ok := variants[strings.ToLower(variant)]
	if !ok {
		return Board{}, checkpoint.Wrap(fmt.Errorf("%q, known are %s", variant, strings.Join(Variants(), ", ")), ErrUnknownVariant)
	}
	c, ok := chips[strings.ToLower(chip)]
	if !ok {
		return Board{}, checkpoint.Wrap(fmt.Errorf("%q, known are %s", chip, strings.Join(Chips(), ", ")), ErrUnknownChip)
	}
	b.Chip = c
	return b, nil
}

// Variants returns the names of all hardware variants.
func Variants() []string {
	return keys(variants)
}

// Chips returns the names of all chips.
func Chips() []string {
	return keys(chips)
}

func keys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
