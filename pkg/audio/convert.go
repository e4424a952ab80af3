package audio

import "time"

// PCM16FromFloat32 converts float32 samples in [-1.0, 1.0] to little-endian
// int16 PCM. Values outside the range are clamped, never wrapped. The
// function is pure and deterministic.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DownmixToMono averages interleaved multi-channel float32 samples into mono.
// For channels <= 1 the input is returned unchanged. A trailing incomplete
// frame is dropped.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Converter turns captured float32 samples into the mono int16 wire format.
// It is stateless; a single value may be shared across calls but each call is
// independent. Conversion order: downmix, quantise, resample.
type Converter struct {
	// Src is the capture format delivered by the device.
	Src Format

	// DstRate is the wire sample rate in Hz (mono is implied).
	DstRate int
}

// Convert transforms one block of interleaved captured samples into
// little-endian int16 mono PCM at the wire rate.
func (c Converter) Convert(samples []float32) []byte {
	mono := DownmixToMono(samples, c.Src.Channels)
	pcm := PCM16FromFloat32(mono)
	return ResampleMono16(pcm, c.Src.SampleRate, c.DstRate)
}

// WireDuration returns the wall-clock span that n wire-format samples cover.
func (c Converter) WireDuration(n int) time.Duration {
	if c.DstRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(c.DstRate)
}
