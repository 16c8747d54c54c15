package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("ZETLAB-017")
	if err := WriteHandshake(&buf, payload); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	got, err := ReadHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestHandshakeEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf, nil); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	got, err := ReadHandshake(&buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got != nil {
		t.Errorf("payload = %v, want nil", got)
	}
}

func TestHandshakeRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadHandshake(buf); !errors.Is(err, ErrHandshakeLength) {
		t.Fatalf("err = %v, want ErrHandshakeLength", err)
	}
}

func TestHandshakeShortRead(t *testing.T) {
	buf := bytes.NewBuffer([]byte{10, 0, 0, 0, 'a', 'b'})
	if _, err := ReadHandshake(buf); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Packet{Command: CmdReadCorrection, Error: 1, Payload: []byte{1, 2, 3, 4}}
	if err := WritePacket(&buf, in); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if buf.Len() != PacketSize {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), PacketSize)
	}
	out, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if out.Command != in.Command || out.Error != in.Error || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestReadPacketRejectsBadSize(t *testing.T) {
	raw := make([]byte, PacketSize)
	raw[4] = 0xff
	raw[5] = 0xff // size field far beyond the payload capacity
	if _, err := ReadPacket(bytes.NewBuffer(raw)); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("err = %v, want ErrTruncatedFrame", err)
	}
}

func TestWritePacketRejectsOversizedPayload(t *testing.T) {
	if err := WritePacket(&bytes.Buffer{}, &Packet{Payload: make([]byte, PayloadSize+1)}); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frame := make([]byte, PacketSize)
	frame[0] = 0xab
	frame[PacketSize-1] = 0xcd
	if err := WriteFrame(&buf, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out := make([]byte, PacketSize)
	if err := ReadFrame(&buf, out); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Error("frame mismatch after round trip")
	}
}

func TestFrameSizeEnforced(t *testing.T) {
	if err := WriteFrame(&bytes.Buffer{}, make([]byte, 100)); err == nil {
		t.Fatal("expected error for short frame")
	}
	if err := ReadFrame(&bytes.Buffer{}, make([]byte, 100)); err == nil {
		t.Fatal("expected error for short destination")
	}
}

func TestMaskRemapRoundTrip(t *testing.T) {
	// Host -> device -> host is the identity for every dense 4-bit mask.
	for mask := uint32(0); mask < 16; mask++ {
		device := HostMaskToDevice(mask)
		if device&^uint32(0xaa) != 0 {
			t.Errorf("device mask %#x uses non-odd bits", device)
		}
		if back := DeviceMaskToHost(device); back != mask {
			t.Errorf("round trip %#x -> %#x -> %#x", mask, device, back)
		}
	}
}

func TestMaskRemapKnownValues(t *testing.T) {
	if got := HostMaskToDevice(0x05); got != 0x22 {
		t.Errorf("HostMaskToDevice(0x05) = %#x, want 0x22", got)
	}
	if got := DeviceMaskToHost(0xa8); got != 0x0e {
		t.Errorf("DeviceMaskToHost(0xa8) = %#x, want 0x0e", got)
	}
}

func TestSampleRateCodes(t *testing.T) {
	tests := []struct {
		rate uint32
		mode uint16
	}{
		{50000, 1}, {25000, 2}, {5000, 3}, {2500, 4}, {12345, 0},
	}
	for _, tt := range tests {
		if got := SampleRateToModeADC(tt.rate); got != tt.mode {
			t.Errorf("SampleRateToModeADC(%d) = %d, want %d", tt.rate, got, tt.mode)
		}
	}
	// Code 0 decodes to the 25 kHz default.
	if got := ModeADCToSampleRate(0); got != 25000 {
		t.Errorf("ModeADCToSampleRate(0) = %d, want 25000", got)
	}
}

func TestRateDACCodes(t *testing.T) {
	if got := SampleRateToRateDAC(25000); got != 3200 {
		t.Errorf("SampleRateToRateDAC(25000) = %d, want 3200", got)
	}
	if got := RateDACToSampleRate(3200); got != 25000 {
		t.Errorf("RateDACToSampleRate(3200) = %d, want 25000", got)
	}
	if SampleRateToRateDAC(0) != 0 || RateDACToSampleRate(0) != 0 {
		t.Error("zero must map to zero in both directions")
	}
}

func TestGainCodes(t *testing.T) {
	for _, tt := range []struct {
		gain uint32
		code uint16
	}{{1, 0}, {10, 1}, {100, 2}, {7, 0}} {
		if got := GainToAmplifyCode(tt.gain); got != tt.code {
			t.Errorf("GainToAmplifyCode(%d) = %d, want %d", tt.gain, got, tt.code)
		}
	}
	if got := AmplifyCodeToGain(2); got != 100 {
		t.Errorf("AmplifyCodeToGain(2) = %d, want 100", got)
	}
}

func TestParseCorrectionFallsBackOnMismatch(t *testing.T) {
	payload := make([]byte, CorrectionSize)
	payload[0] = 1 // non-zero amplify[0][0] bits
	c := ParseCorrection(CmdGetInfo, payload)
	var zero Correction
	if *c != zero {
		t.Error("mismatched command must yield a zero table")
	}
}

func TestErrorCodesAreStable(t *testing.T) {
	if ErrNullArgument.ErrorCode() != -1 || ErrBadSize.ErrorCode() != -14 {
		t.Error("sentinel codes drifted")
	}
	wrapped := Errorf(ErrBadChannel, "channel %d", 9)
	if !errors.Is(wrapped, ErrBadChannel) {
		t.Error("Errorf must preserve errors.Is identity")
	}
}
