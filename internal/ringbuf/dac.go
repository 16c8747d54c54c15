package ringbuf

import (
	"encoding/binary"
	"math"

	"github.com/zet017/zet017tcp/internal/protocol"
)

// DACRing is the egress ring a foreground caller fills via channel_put_data
// and the worker drains and sends to the device. Unlike ADCRing, its
// producer is the caller and its consumer is the worker's pacing loop,
// which zeroes each consumed span so a lagging producer cannot replay
// stale samples.
type DACRing struct {
	*Ring
	readFrame int64 // next frame the worker will consume
}

// NewDACRing allocates a DAC ring of multiplier times capacityBytes, the
// headroom the transmit path keeps over one second of worst-case traffic.
func NewDACRing(capacityBytes int64, multiplier int64, stride int) *DACRing {
	if multiplier <= 0 {
		multiplier = 4
	}
	return &DACRing{Ring: NewRing(capacityBytes*multiplier/int64(stride), stride)}
}

// Reset reconfigures the ring for a new stride and rewinds both cursors.
func (r *DACRing) Reset(capacityFrames int64, stride int) {
	r.Ring.Reset(capacityFrames, stride)
	r.mu.Lock()
	r.readFrame = 0
	r.mu.Unlock()
}

// ReadFrame returns the worker's consume cursor: the next frame index that
// will be sent to the device.
func (r *DACRing) ReadFrame() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readFrame
}

// PutChannelData encodes calibrated float samples into the ring ending at
// pointer (a frame index in the channel's virtual frame space), computing
// the raw code as round(sample / resolution) per the channel's sample size.
func (r *DACRing) PutChannelData(channel int, channelOffset, activeChannels, sampleSize int, pointer uint64, data []float32, resolve ChannelResolver) error {
	if channel < 0 || channelOffset < 0 || channelOffset >= activeChannels {
		return ErrBadChannel
	}
	if len(data) == 0 {
		return protocol.ErrBadSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := int64(pointer) - int64(len(data))
	res := resolve(channel)
	byteOff := channelOffset * sampleSize
	for i, v := range data {
		frame := start + int64(i)
		// DAC frames may be written ahead of writeFrame (the caller is the
		// producer here), so grow writeFrame to cover them instead of
		// rejecting as "not yet written".
		if frame >= r.writeFrame {
			r.writeFrame = frame + 1
		}
		off := (frame % r.frames) * int64(r.stride)
		raw := int32(math.Round(float64(v / res)))
		encodeSample(r.buf[off+int64(byteOff):], sampleSize, raw)
	}
	return nil
}

// ConsumeFrame copies and zeroes the next count bytes (a whole number of
// frames) starting at the worker's internal read cursor, for transmission
// to the device. Returns the bytes copied; advances the read cursor by
// count/stride frames.
func (r *DACRing) ConsumeFrame(count int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, count)
	frames := count / r.stride
	for i := 0; i < frames; i++ {
		off := ((r.readFrame + int64(i)) % r.frames) * int64(r.stride)
		copy(out[i*r.stride:(i+1)*r.stride], r.buf[off:off+int64(r.stride)])
		for b := off; b < off+int64(r.stride); b++ {
			r.buf[b] = 0
		}
	}
	r.readFrame += int64(frames)
	return out
}

func encodeSample(b []byte, sampleSize int, raw int32) {
	switch sampleSize {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(raw)))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	}
}
