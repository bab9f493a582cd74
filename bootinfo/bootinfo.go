// Package bootinfo handles the Boot Info footer, the trailing eight bytes of a
// firmware image:
//
//	offset len-8: device identifier, 4 bytes little endian
//	offset len-4: version, 2 bytes little endian (0 = development build)
//	offset len-2: CRC-CCITT, 2 bytes little endian
//
// The CRC field is chosen so that the CRC over the entire image, footer
// included, is zero.
package bootinfo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aligator/sdboot/crc"
)

// Size is the length of the footer in bytes.
const Size = 8

const (
	// VersionDevelopment marks an image that is flashed whenever its CRC
	// differs from the resident one.
	VersionDevelopment = 0
	// VersionErased is what an erased flash reads back as.
	VersionErased = 0xFFFF
)

const (
	offsetDeviceID = 0
	offsetVersion  = 4
	offsetCRC      = 6
)

var ErrTooShort = errors.New("image is shorter than the boot info footer")

// Footer is the decoded Boot Info footer.
type Footer struct {
	DeviceID uint32
	Version  uint16
	CRC      uint16
}

func (f Footer) String() string {
	return fmt.Sprintf("device 0x%08x version %d crc 0x%04x", f.DeviceID, f.Version, f.CRC)
}

// IsDevelopment reports whether the footer belongs to a development build.
func (f Footer) IsDevelopment() bool {
	return f.Version == VersionDevelopment
}

// Decode reads a footer from exactly Size bytes.
func Decode(b []byte) Footer {
	_ = b[Size-1]
	return Footer{
		DeviceID: binary.LittleEndian.Uint32(b[offsetDeviceID:]),
		Version:  binary.LittleEndian.Uint16(b[offsetVersion:]),
		CRC:      binary.LittleEndian.Uint16(b[offsetCRC:]),
	}
}

// Parse extracts the footer from the end of image.
func Parse(image []byte) (Footer, error) {
	if len(image) < Size {
		return Footer{}, ErrTooShort
	}
	return Decode(image[len(image)-Size:]), nil
}

// Encode writes f into b, which must hold at least Size bytes.
func (f Footer) Encode(b []byte) {
	_ = b[Size-1]
	binary.LittleEndian.PutUint32(b[offsetDeviceID:], f.DeviceID)
	binary.LittleEndian.PutUint16(b[offsetVersion:], f.Version)
	binary.LittleEndian.PutUint16(b[offsetCRC:], f.CRC)
}

// Stamp overwrites the last Size bytes of image with deviceID, version and a
// freshly computed CRC, so that Valid(image) holds afterwards.
func Stamp(image []byte, deviceID uint32, version uint16) (Footer, error) {
	if len(image) < Size {
		return Footer{}, ErrTooShort
	}
	tail := image[len(image)-Size:]
	binary.LittleEndian.PutUint32(tail[offsetDeviceID:], deviceID)
	binary.LittleEndian.PutUint16(tail[offsetVersion:], version)

	sum := crc.Checksum(image[:len(image)-2])
	binary.LittleEndian.PutUint16(tail[offsetCRC:], sum)

	return Footer{DeviceID: deviceID, Version: version, CRC: sum}, nil
}

// Valid reports whether the CRC residue over image is zero.
func Valid(image []byte) bool {
	return len(image) >= Size && crc.Checksum(image) == 0
}
