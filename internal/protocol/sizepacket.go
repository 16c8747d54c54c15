package protocol

// ComputeSizePacketADC recomputes size_packet_adc, the word count PutInfo
// must write so the device's ADC stream frames carry whole samples for the
// active channel/sample-size configuration. activeChannels is the popcount
// of mask_channel_adc under the 4- or 8-channel rule; sampleSize is 2 or 4
// bytes per sample; sampleRate is the configured ADC sample rate in Hz.
func ComputeSizePacketADC(activeChannels int, sampleSize int, sampleRate uint32) uint16 {
	if activeChannels <= 0 || sampleSize <= 0 {
		return 0
	}
	maxFrames := (PacketSize - 8) / (sampleSize * activeChannels)
	if maxFrames < 1 {
		maxFrames = 1
	}
	for maxFrames > 1 && sampleRate/uint32(maxFrames) < 10 {
		maxFrames /= 2
		if maxFrames < 1 {
			maxFrames = 1
			break
		}
	}
	result := maxFrames * activeChannels * sampleSize / 2
	return uint16(result)
}
