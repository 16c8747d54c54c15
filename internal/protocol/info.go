package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// InfoRecordSize is the size in bytes of the device-info register map
// exchanged via GetInfo/PutInfo.
const InfoRecordSize = 1024

// Byte offsets of the fields of the device-info record. Ranges not named
// here are reserved and must be preserved byte-for-byte on read-modify-write.
const (
	offCommand             = 0x000
	offStartADC            = 0x004
	offStartDAC            = 0x006
	offQuantityChannelADC  = 0x00e
	offQuantityChannelDAC  = 0x010
	offTypeDataADC         = 0x012
	offTypeDataDAC         = 0x013
	offMaskChannelADC      = 0x014
	offMaskChannelDAC      = 0x018
	offMaskICP             = 0x01c
	offWorkChannelADC      = 0x024
	offWorkChannelDAC      = 0x026
	offAmplifyCode         = 0x028 // [8]u16
	offAtten               = 0x0a8 // [4]u16
	offModeADC             = 0x0ba
	offRateDAC             = 0x0be
	offSizePacketADC       = 0x0c0
	offDigitalInput        = 0x0d8
	offDigitalOutput       = 0x0dc
	offVersionDSP          = 0x0ec // [32]byte
	offDeviceName          = 0x10c // [16]byte
	offSerial              = 0x12c
	offDigitalOutputEnable = 0x13c
	offResolutionADCDef    = 0x140
	offResolutionDACDef    = 0x148
	offResolutionADC       = 0x150 // [16]f32
	offAttenSpeed          = 0x1b6
	offResolutionDAC       = 0x1d0 // [4]f32
	offQuantityChannelVirt = 0x1e8
)

// InfoRecord is a decoded view over the device's 1024-byte register map.
// Reserved bytes are preserved via the Raw field so a caller that modifies
// a few fields and re-encodes does not clobber unlisted ranges.
type InfoRecord struct {
	Raw [InfoRecordSize]byte
}

// NewInfoRecord wraps a raw 1024-byte buffer received from GetInfo.
func NewInfoRecord(raw []byte) (*InfoRecord, error) {
	if len(raw) != InfoRecordSize {
		return nil, ErrTruncatedFrame
	}
	ir := &InfoRecord{}
	copy(ir.Raw[:], raw)
	return ir, nil
}

func (r *InfoRecord) u16(off int) uint16  { return binary.LittleEndian.Uint16(r.Raw[off:]) }
func (r *InfoRecord) putU16(off int, v uint16) { binary.LittleEndian.PutUint16(r.Raw[off:], v) }
func (r *InfoRecord) i16(off int) int16   { return int16(r.u16(off)) }
func (r *InfoRecord) putI16(off int, v int16) { r.putU16(off, uint16(v)) }
func (r *InfoRecord) u32(off int) uint32  { return binary.LittleEndian.Uint32(r.Raw[off:]) }
func (r *InfoRecord) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(r.Raw[off:], v) }
func (r *InfoRecord) f32(off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(r.Raw[off:]))
}
func (r *InfoRecord) putF32(off int, v float32) {
	binary.LittleEndian.PutUint32(r.Raw[off:], math.Float32bits(v))
}

func (r *InfoRecord) Command() uint16           { return r.u16(offCommand) }
func (r *InfoRecord) SetCommand(v uint16)       { r.putU16(offCommand, v) }
func (r *InfoRecord) StartADC() int16           { return r.i16(offStartADC) }
func (r *InfoRecord) SetStartADC(v int16)       { r.putI16(offStartADC, v) }
func (r *InfoRecord) StartDAC() int16           { return r.i16(offStartDAC) }
func (r *InfoRecord) SetStartDAC(v int16)       { r.putI16(offStartDAC, v) }
func (r *InfoRecord) QuantityChannelADC() uint16 { return r.u16(offQuantityChannelADC) }
func (r *InfoRecord) QuantityChannelDAC() uint16 { return r.u16(offQuantityChannelDAC) }
func (r *InfoRecord) TypeDataADC() uint8        { return r.Raw[offTypeDataADC] }
func (r *InfoRecord) TypeDataDAC() uint8        { return r.Raw[offTypeDataDAC] }
func (r *InfoRecord) MaskChannelADC() uint32    { return r.u32(offMaskChannelADC) }
func (r *InfoRecord) SetMaskChannelADC(v uint32) { r.putU32(offMaskChannelADC, v) }
func (r *InfoRecord) MaskChannelDAC() uint32    { return r.u32(offMaskChannelDAC) }
func (r *InfoRecord) SetMaskChannelDAC(v uint32) { r.putU32(offMaskChannelDAC, v) }
func (r *InfoRecord) MaskICP() uint32           { return r.u32(offMaskICP) }
func (r *InfoRecord) SetMaskICP(v uint32)       { r.putU32(offMaskICP, v) }
func (r *InfoRecord) WorkChannelADC() uint16    { return r.u16(offWorkChannelADC) }
func (r *InfoRecord) WorkChannelDAC() uint16    { return r.u16(offWorkChannelDAC) }

func (r *InfoRecord) AmplifyCode(i int) uint16 { return r.u16(offAmplifyCode + i*2) }
func (r *InfoRecord) SetAmplifyCode(i int, v uint16) { r.putU16(offAmplifyCode+i*2, v) }

func (r *InfoRecord) Atten(i int) uint16       { return r.u16(offAtten + i*2) }
func (r *InfoRecord) SetAtten(i int, v uint16) { r.putU16(offAtten+i*2, v) }

func (r *InfoRecord) ModeADC() uint16     { return r.u16(offModeADC) }
func (r *InfoRecord) SetModeADC(v uint16) { r.putU16(offModeADC, v) }
func (r *InfoRecord) RateDAC() uint16     { return r.u16(offRateDAC) }
func (r *InfoRecord) SetRateDAC(v uint16) { r.putU16(offRateDAC, v) }
func (r *InfoRecord) SizePacketADC() uint16     { return r.u16(offSizePacketADC) }
func (r *InfoRecord) SetSizePacketADC(v uint16) { r.putU16(offSizePacketADC, v) }

func (r *InfoRecord) DigitalInput() uint32  { return r.u32(offDigitalInput) }
func (r *InfoRecord) DigitalOutput() uint32 { return r.u32(offDigitalOutput) }
func (r *InfoRecord) DigitalOutputEnable() uint32 { return r.u32(offDigitalOutputEnable) }

func (r *InfoRecord) VersionDSP() string {
	return trimZero(r.Raw[offVersionDSP : offVersionDSP+32])
}
func (r *InfoRecord) DeviceName() string {
	return trimZero(r.Raw[offDeviceName : offDeviceName+16])
}
func (r *InfoRecord) Serial() uint32 { return r.u32(offSerial) }

func (r *InfoRecord) ResolutionADCDef() float32 { return r.f32(offResolutionADCDef) }
func (r *InfoRecord) ResolutionDACDef() float32 { return r.f32(offResolutionDACDef) }

// ResolutionADC returns entry i (0..15) of the ADC calibration table. A
// zero entry means the device never calibrated that slot and the nominal
// default applies.
func (r *InfoRecord) ResolutionADC(i int) float32 {
	v := r.f32(offResolutionADC + i*4)
	if v == 0 {
		return r.ResolutionADCDef()
	}
	return v
}
func (r *InfoRecord) SetResolutionADC(i int, v float32) { r.putF32(offResolutionADC+i*4, v) }

func (r *InfoRecord) AttenSpeed() uint16     { return r.u16(offAttenSpeed) }
func (r *InfoRecord) SetAttenSpeed(v uint16) { r.putU16(offAttenSpeed, v) }

func (r *InfoRecord) ResolutionDAC(i int) float32 {
	v := r.f32(offResolutionDAC + i*4)
	if v == 0 {
		return r.ResolutionDACDef()
	}
	return v
}

func (r *InfoRecord) QuantityChannelVirt() uint16 { return r.u16(offQuantityChannelVirt) }

func trimZero(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
