// Package audio holds PCM16 helpers used on the TTS output path.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample
const BytesPerSample = 2

// BytesToSamples decodes little-endian 16-bit PCM
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcm))
	}

	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ConvertSampleRate resamples interleaved PCM16 from inputRate to outputRate.
// Channels are resampled independently. Equal rates return pcm unchanged.
func ConvertSampleRate(pcm []byte, inputRate, outputRate, channels int) ([]byte, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if channels <= 0 {
		channels = 1
	}
	if inputRate == outputRate || len(pcm) == 0 {
		return pcm, nil
	}

	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%d samples do not divide into %d channels", len(samples), channels)
	}

	if channels == 1 {
		return SamplesToBytes(Resample(samples, inputRate, outputRate)), nil
	}

	frames := len(samples) / channels
	perChannel := make([][]int16, channels)
	for ch := 0; ch < channels; ch++ {
		mono := make([]int16, frames)
		for i := 0; i < frames; i++ {
			mono[i] = samples[i*channels+ch]
		}
		perChannel[ch] = Resample(mono, inputRate, outputRate)
	}

	outFrames := len(perChannel[0])
	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = perChannel[ch][i]
		}
	}
	return SamplesToBytes(out), nil
}

// Resample performs linear interpolation resampling of mono samples.
// Good enough for speech headed to a lip-sync model.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(math.Round(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction))
	}

	return output
}

// Duration returns the playback length of byteLen bytes of PCM16
func Duration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := byteLen / (BytesPerSample * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
