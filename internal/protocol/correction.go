package protocol

import "math"

// CorrectionSize is the wire size in bytes of the Correction table sent in
// reply to CmdReadCorrection.
const CorrectionSize = 8*4*4 + 8*4*4 + 2*4 + 2*4

// Correction holds the per-channel, per-gain calibration table a device
// returns via ReadCorrection.
type Correction struct {
	Amplify   [8][4]float32
	OffsetADC [8][4]float32
	Reduction [2]float32
	OffsetDAC [2]float32
}

// ParseCorrection decodes a ReadCorrection reply. If replyCommand does not
// match CmdReadCorrection, the reply is rejected by the device and
// calibration must fall back to an all-zero table (nominal resolution
// applies everywhere), matching the original firmware's behavior.
func ParseCorrection(replyCommand uint16, payload []byte) *Correction {
	var c Correction
	if replyCommand != CmdReadCorrection || len(payload) < CorrectionSize {
		return &c
	}
	off := 0
	readF32 := func() float32 {
		v := math.Float32frombits(leUint32(payload[off:]))
		off += 4
		return v
	}
	for i := range c.Amplify {
		for j := range c.Amplify[i] {
			c.Amplify[i][j] = readF32()
		}
	}
	for i := range c.OffsetADC {
		for j := range c.OffsetADC[i] {
			c.OffsetADC[i][j] = readF32()
		}
	}
	for i := range c.Reduction {
		c.Reduction[i] = readF32()
	}
	for i := range c.OffsetDAC {
		c.OffsetDAC[i] = readF32()
	}
	return &c
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
