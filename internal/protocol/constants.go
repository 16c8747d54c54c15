// Package protocol implements the ZET 017 wire protocol: the three TCP
// ports a device exposes, the length-prefixed handshake performed on each,
// the 1024-byte command envelope, the fixed-offset device-info record, and
// the lookup tables translating device register codes to engineering
// units (sample rates, gain, DAC rates, channel masks).
package protocol

import "errors"

// TCP ports a ZET 017 device listens on.
const (
	PortCommand = 1808
	PortADC     = 2320
	PortDAC     = 3344
)

// PacketSize is the fixed size, in bytes, of every command/ADC/DAC frame.
const PacketSize = 1024

// PayloadSize is the command envelope's payload capacity: PacketSize minus
// the command/error/size header fields.
const PayloadSize = PacketSize - 2 - 2 - 4

// Command codes understood by the device's command port.
const (
	CmdGetInfo        uint16 = 0x0000
	CmdPutInfo        uint16 = 0x0012
	CmdReadCorrection uint16 = 0x0513
)

// Errors returned while decoding frames off the wire.
var (
	ErrTruncatedFrame  = errors.New("protocol: truncated frame")
	ErrUnexpectedReply = errors.New("protocol: unexpected command in reply")
	ErrHandshakeLength = errors.New("protocol: invalid handshake length")
)
