package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet is the 1024-byte command envelope exchanged on the command port.
type Packet struct {
	Command uint16
	Error   uint16
	Payload []byte
}

// ReadHandshake reads the 4-byte little-endian length prefix followed by
// that many bytes, as sent by a device immediately after accept() on any
// of its three ports.
func ReadHandshake(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading handshake length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > PacketSize {
		return nil, ErrHandshakeLength
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading handshake payload: %w", err)
	}
	return payload, nil
}

// ReadPacket reads one full 1024-byte command envelope off the command
// socket and decodes its header.
func ReadPacket(r io.Reader) (*Packet, error) {
	var buf [PacketSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("reading packet: %w", err)
	}
	size := binary.LittleEndian.Uint32(buf[4:8])
	if size > PayloadSize {
		return nil, ErrTruncatedFrame
	}
	payload := make([]byte, size)
	copy(payload, buf[8:8+size])
	return &Packet{
		Command: binary.LittleEndian.Uint16(buf[0:2]),
		Error:   binary.LittleEndian.Uint16(buf[2:4]),
		Payload: payload,
	}, nil
}

// ReadFrame reads one raw 1024-byte ADC/DAC stream frame.
func ReadFrame(r io.Reader, dst []byte) error {
	if len(dst) != PacketSize {
		return fmt.Errorf("protocol: frame buffer must be %d bytes, got %d", PacketSize, len(dst))
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("reading frame: %w", err)
	}
	return nil
}
