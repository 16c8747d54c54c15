package ringbuf

import (
	"testing"
)

func TestDACRingPutAndConsumeZeroesRegion(t *testing.T) {
	const channels = 1
	const sampleSize = 2
	stride := channels * sampleSize
	r := NewDACRing(8, 1, stride)

	resolve := func(channel int) float32 { return 0.001 }
	if err := r.PutChannelData(0, 0, channels, sampleSize, 2, []float32{0.1, 0.2}, resolve); err != nil {
		t.Fatalf("PutChannelData: %v", err)
	}

	frame := r.ConsumeFrame(stride * 2)
	if len(frame) != stride*2 {
		t.Fatalf("ConsumeFrame returned %d bytes, want %d", len(frame), stride*2)
	}
	allZero := true
	for _, b := range frame {
		if b != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatalf("expected non-zero consumed samples")
	}

	// Once the cursor wraps back to frames 0,1 they must read as zeros: the
	// region was cleared on consume.
	r.ConsumeFrame(stride * 2) // frames 2,3
	again := r.ConsumeFrame(stride * 2)
	for _, b := range again {
		if b != 0 {
			t.Fatalf("expected zeroed region after consume, got %v", again)
		}
	}
}

func TestDACRingReadFrameAdvancesAndResets(t *testing.T) {
	r := NewDACRing(16, 1, 2)
	if r.ReadFrame() != 0 {
		t.Fatalf("initial ReadFrame = %d", r.ReadFrame())
	}
	r.ConsumeFrame(6)
	if r.ReadFrame() != 3 {
		t.Fatalf("ReadFrame = %d, want 3", r.ReadFrame())
	}
	r.Reset(r.Capacity(), r.Stride())
	if r.ReadFrame() != 0 {
		t.Fatalf("ReadFrame after Reset = %d, want 0", r.ReadFrame())
	}
	if r.HeadFrame() != 0 {
		t.Fatalf("HeadFrame after Reset = %d, want 0", r.HeadFrame())
	}
}
