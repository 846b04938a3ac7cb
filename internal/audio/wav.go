package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// DecodeWAV reads a PCM WAV file into int16 samples plus its sample rate.
// Multi-channel files are rejected; channel folding is the extraction
// step's job, not the decoder's.
func DecodeWAV(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, ErrNoSamples
	}
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		return nil, 0, fmt.Errorf("%s: %d channels, want mono", path, buf.Format.NumChannels)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}

	// Rescale whatever bit depth the decoder reports into int16 range.
	shift := bitDepth - 16
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}

	rate := int(dec.SampleRate)
	if rate == 0 && buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if rate == 0 {
		rate = chunkSampleRate
	}
	return samples, rate, nil
}
