package sdcard

import (
	"encoding/binary"

	"github.com/sigurn/crc8"
)

// Command indices. On the wire the index is sent as 0x40|index.
const (
	CmdGoIdleState   = 0
	CmdSendOpCond    = 1
	CmdSendIfCond    = 8
	CmdSetBlockLen   = 16
	CmdReadSingle    = 17
	CmdWriteSingle   = 24
	CmdAppCmd        = 55
	CmdReadOCR       = 58
	AppCmdSendOpCond = 41
)

// R1 status bits.
const (
	StatusIdle           = 0x01
	StatusEraseReset     = 0x02
	StatusIllegalCommand = 0x04
	StatusCRCError       = 0x08
	StatusEraseSeqError  = 0x10
	StatusAddressError   = 0x20
	StatusParameterError = 0x40
)

const (
	// TokenStartBlock precedes every single-block data packet.
	TokenStartBlock = 0xFE

	// DataAccepted is the data response token for a written block, after
	// masking with DataResponseMask.
	DataAccepted     = 0x05
	DataResponseMask = 0x1F

	// OCRHighCapacity is the card capacity status bit of the OCR.
	OCRHighCapacity = 1 << 30

	// IfCondArgument probes for 2.7-3.6V with check pattern 0xAA.
	IfCondArgument = 0x1AA
)

// FrameSize is the length of a command frame: command, argument, CRC.
const FrameSize = 6

// CRC-7/MMC computed as an 8 bit CRC with the polynomial shifted left by one,
// which leaves the 7 bit CRC in the upper bits.
var crc7 = crc8.MakeTable(crc8.Params{
	Poly:   0x12,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xEA,
	Name:   "CRC-7/MMC",
})

// CommandCRC returns the trailing frame byte (CRC7 plus end bit) for the
// first five bytes of a command frame.
func CommandCRC(head []byte) byte {
	return crc8.Checksum(head[:FrameSize-1], crc7) | 0x01
}

// Frame builds the six byte command frame for index and argument.
func Frame(index byte, arg uint32) [FrameSize]byte {
	var f [FrameSize]byte
	f[0] = 0x40 | index&0x3F
	binary.BigEndian.PutUint32(f[1:5], arg)
	f[5] = CommandCRC(f[:5])
	return f
}
