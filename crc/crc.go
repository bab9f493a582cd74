// Package crc implements the CRC-CCITT variant used for firmware images:
// reflected polynomial 0x8408 (0x1021 bit-reversed), seed 0xFFFF, no final xor.
//
// An image carries its own checksum in its last two bytes, little endian.
// Running the accumulator over the whole image, checksum included, then
// leaves a residue of zero.
package crc

import (
	"github.com/sigurn/crc16"
)

// Seed is the initial register value.
const Seed = 0xFFFF

var table = crc16.MakeTable(crc16.CRC16_MCRF4XX)

// CCITT is a running CRC-CCITT accumulator. The zero value is not ready for
// use, call New or Reset first.
type CCITT struct {
	state uint16
}

// New returns an accumulator seeded with Seed.
func New() *CCITT {
	c := &CCITT{}
	c.Reset()
	return c
}

// Reset reseeds the accumulator.
func (c *CCITT) Reset() {
	c.state = crc16.Init(table)
}

// Write adds p to the running checksum. It never fails.
func (c *CCITT) Write(p []byte) (int, error) {
	c.state = crc16.Update(c.state, p, table)
	return len(p), nil
}

// WriteByte adds a single byte.
func (c *CCITT) WriteByte(b byte) error {
	c.state = crc16.Update(c.state, []byte{b}, table)
	return nil
}

// Sum16 returns the current register value.
func (c *CCITT) Sum16() uint16 {
	return crc16.Complete(c.state, table)
}

// Checksum computes the CRC of data in one go.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}
