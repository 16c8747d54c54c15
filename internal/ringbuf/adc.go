package ringbuf

import (
	"encoding/binary"

	"github.com/zet017/zet017tcp/internal/protocol"
)

// SmoothFactor is the product of small primes every legal ADC channel
// count times sample size must divide evenly: 1*2*3*2*5*7*2*4 = 3360.
// Sizing the ring to a multiple of this factor guarantees every supported
// channel/sample-size configuration wraps on a whole-frame boundary.
const SmoothFactor = 1 * 2 * 3 * 2 * 5 * 7 * 2 * 4

// ADCRing is the lossy, non-blocking, single-producer ring the worker
// fills from the ADC socket. Reads never block the producer: if the
// consumer lags, the oldest frames are simply overwritten.
type ADCRing struct {
	*Ring
}

// NewADCRing allocates an ADC ring of capacityBytes, rounded up to a
// SmoothFactor multiple so the frame count is whole for every legal
// stride.
func NewADCRing(capacityBytes int64, stride int) *ADCRing {
	capacityBytes = RoundUpSmooth(capacityBytes)
	return &ADCRing{Ring: NewRing(capacityBytes/int64(stride), stride)}
}

// RoundUpSmooth rounds n up to the next SmoothFactor multiple.
func RoundUpSmooth(n int64) int64 {
	if n <= 0 {
		n = SmoothFactor
	}
	rem := n % SmoothFactor
	if rem == 0 {
		return n
	}
	return n + (SmoothFactor - rem)
}

// ChannelResolver returns the calibrated volts-per-code resolution to use
// for a given channel and its current amplifier code.
type ChannelResolver func(channel int) float32

// GetChannelData returns calibrated float samples ending at pointer (a
// frame index in the channel's virtual, never-wrapping frame space) for
// the given channel, decoding each raw sample per sampleSize and
// multiplying by resolve(channel).
func (r *ADCRing) GetChannelData(channel int, channelOffset, activeChannels, sampleSize int, pointer uint64, size int, resolve ChannelResolver) ([]float32, error) {
	if channel < 0 || channelOffset < 0 || channelOffset >= activeChannels {
		return nil, ErrBadChannel
	}
	if size <= 0 {
		return nil, protocol.ErrBadSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := int64(pointer) - int64(size)
	out := make([]float32, size)
	res := resolve(channel)
	byteOff := channelOffset * sampleSize
	for i := 0; i < size; i++ {
		frame := start + int64(i)
		off, err := r.frameOffset(frame)
		if err != nil {
			return nil, err
		}
		raw := decodeSample(r.buf[off+int64(byteOff):], sampleSize)
		out[i] = float32(raw) * res
	}
	return out, nil
}

func decodeSample(b []byte, sampleSize int) int32 {
	switch sampleSize {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int32(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}
