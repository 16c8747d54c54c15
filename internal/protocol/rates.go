package protocol

// SampleRateToModeADC encodes a requested ADC sample rate into the
// device's mode_adc register code. Unknown rates fall back to code 0,
// which the device interprets as 25 kHz.
func SampleRateToModeADC(rate uint32) uint16 {
	switch rate {
	case 50000:
		return 1
	case 25000:
		return 2
	case 5000:
		return 3
	case 2500:
		return 4
	default:
		return 0
	}
}

// ModeADCToSampleRate decodes mode_adc back into a sample rate in Hz.
func ModeADCToSampleRate(mode uint16) uint32 {
	switch mode {
	case 1:
		return 50000
	case 2:
		return 25000
	case 3:
		return 5000
	case 4:
		return 2500
	default:
		return 25000
	}
}

// SampleRateToRateDAC encodes a DAC sample rate into the device's rate_dac
// register code: the device derives its own rate as 80MHz / code.
func SampleRateToRateDAC(rate uint32) uint16 {
	if rate == 0 {
		return 0
	}
	return uint16(80_000_000 / rate)
}

// RateDACToSampleRate decodes rate_dac back into a sample rate in Hz.
func RateDACToSampleRate(code uint16) uint32 {
	if code == 0 {
		return 0
	}
	return 80_000_000 / uint32(code)
}

// GainToAmplifyCode encodes an amplifier gain (1, 10 or 100) into its
// device register code.
func GainToAmplifyCode(gain uint32) uint16 {
	switch gain {
	case 1:
		return 0
	case 10:
		return 1
	case 100:
		return 2
	default:
		return 0
	}
}

// AmplifyCodeToGain decodes amplify_code back into an engineering gain.
func AmplifyCodeToGain(code uint16) uint32 {
	switch code {
	case 0:
		return 1
	case 1:
		return 10
	case 2:
		return 100
	default:
		return 1
	}
}
