// Package ringbuf implements the frame-addressed circular buffers that
// decouple a device's ADC/DAC socket I/O from application-side
// consumption. Both ring types share one addressing scheme: a frame is
// `stride` bytes wide (active channel count times sample size), and a
// caller addresses data by a monotonically increasing frame counter
// rather than a byte offset, so readers can request "the last N frames"
// without knowing the physical wrap point.
package ringbuf

import (
	"errors"
	"sync"
)

// Errors returned while addressing a ring.
var (
	ErrFrameExpired    = errors.New("ringbuf: frame no longer in buffer")
	ErrFrameNotWritten = errors.New("ringbuf: frame not yet written")
	ErrBadStride       = errors.New("ringbuf: data is not a whole number of frames")
	ErrBadChannel      = errors.New("ringbuf: channel index out of range")
)

// Ring is the shared circular-byte-buffer core. It is not safe to address
// directly by channel; ADCRing and DACRing build channel-aware semantics
// on top of it.
type Ring struct {
	mu     sync.Mutex
	buf    []byte
	stride int   // bytes per frame = activeChannels * sampleSize
	frames int64 // capacity, in frames

	writeFrame int64 // absolute count of frames written so far (never wraps)
}

// NewRing allocates a ring sized to hold capacityFrames frames of stride
// bytes each.
func NewRing(capacityFrames int64, stride int) *Ring {
	return &Ring{
		buf:    make([]byte, capacityFrames*int64(stride)),
		stride: stride,
		frames: capacityFrames,
	}
}

// Reset reconfigures the ring for a new stride (e.g. after a PutInfo
// changes the active channel set), discarding buffered content.
func (r *Ring) Reset(capacityFrames int64, stride int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = make([]byte, capacityFrames*int64(stride))
	r.stride = stride
	r.frames = capacityFrames
	r.writeFrame = 0
}

// WriteFrames appends whole frames to the ring, overwriting the oldest
// data without blocking if the ring is full. data's length must be a
// multiple of the ring's stride.
func (r *Ring) WriteFrames(data []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stride == 0 || len(data)%r.stride != 0 {
		return 0, ErrBadStride
	}
	n := int64(len(data) / r.stride)
	for i := int64(0); i < n; i++ {
		frame := r.writeFrame + i
		start := (frame % r.frames) * int64(r.stride)
		copy(r.buf[start:start+int64(r.stride)], data[int(i)*r.stride:int(i+1)*r.stride])
	}
	r.writeFrame += n
	return r.writeFrame, nil
}

// frameOffset returns the byte offset of the start of frame f within the
// physical buffer, and validates f is currently addressable. Caller must
// hold r.mu.
func (r *Ring) frameOffset(f int64) (int64, error) {
	if f >= r.writeFrame {
		return 0, ErrFrameNotWritten
	}
	oldest := r.writeFrame - r.frames
	if oldest < 0 {
		oldest = 0
	}
	if f < oldest {
		return 0, ErrFrameExpired
	}
	return (f % r.frames) * int64(r.stride), nil
}

// HeadFrame returns the next frame index that will be written.
func (r *Ring) HeadFrame() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeFrame
}

// Stride returns the current bytes-per-frame.
func (r *Ring) Stride() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stride
}

// Capacity returns the ring capacity in frames.
func (r *Ring) Capacity() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
