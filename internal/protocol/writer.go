package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteHandshake writes the length-prefixed handshake frame a device sends
// immediately after accepting a connection on any of its three ports.
// Wire format: [Length uint32 LE 4B] [Payload Length bytes].
func WriteHandshake(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("writing handshake length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing handshake payload: %w", err)
	}
	return nil
}

// WritePacket writes a full 1024-byte command envelope: command, error,
// size, then a zero-padded payload.
func WritePacket(w io.Writer, p *Packet) error {
	var buf [PacketSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], p.Command)
	binary.LittleEndian.PutUint16(buf[2:4], p.Error)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(p.Payload)))
	if len(p.Payload) > PayloadSize {
		return fmt.Errorf("protocol: payload too large (%d > %d)", len(p.Payload), PayloadSize)
	}
	copy(buf[8:], p.Payload)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// WriteFrame writes a raw 1024-byte ADC/DAC stream frame as-is.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) != PacketSize {
		return fmt.Errorf("protocol: frame must be %d bytes, got %d", PacketSize, len(frame))
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
