package ringbuf

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestADCRingSizingRoundsToSmoothFactor(t *testing.T) {
	r := NewADCRing(1000, 4)
	if byteCap := r.Capacity() * 4; byteCap%SmoothFactor != 0 {
		t.Fatalf("byte capacity %d is not a multiple of SmoothFactor", byteCap)
	}
}

func TestRoundUpSmoothDividesAllStrides(t *testing.T) {
	byteCap := RoundUpSmooth(50000 * 8 * 4)
	for channels := 1; channels <= 8; channels++ {
		for _, sampleSize := range []int{2, 4} {
			stride := int64(channels * sampleSize)
			if byteCap%stride != 0 {
				t.Errorf("stride %d does not divide capacity %d", stride, byteCap)
			}
		}
	}
}

func TestADCRingGetChannelDataRoundTrip(t *testing.T) {
	const channels = 2
	const sampleSize = 2
	stride := channels * sampleSize
	r := &ADCRing{Ring: NewRing(16, stride)}

	frame := make([]byte, stride)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(int16(100)))
	neg50 := int16(-50)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(neg50))
	if _, err := r.WriteFrames(frame); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}

	resolve := func(channel int) float32 { return 0.001 }
	out, err := r.GetChannelData(1, 1, channels, sampleSize, 1, 1, resolve)
	if err != nil {
		t.Fatalf("GetChannelData: %v", err)
	}
	want := float32(-50) * 0.001
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Fatalf("got %v, want %v", out[0], want)
	}
}

func TestADCRingBadChannel(t *testing.T) {
	r := &ADCRing{Ring: NewRing(4, 4)}
	if _, err := r.GetChannelData(0, 5, 2, 2, 1, 1, func(int) float32 { return 1 }); err != ErrBadChannel {
		t.Fatalf("err = %v, want ErrBadChannel", err)
	}
}
