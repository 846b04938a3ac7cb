// Package audio implements the analysis half of the transcription pipeline:
// speech detection over raw PCM samples, chunk planning against provider
// limits, and ffmpeg-backed extraction of the source audio and of the
// planned chunks.
package audio

import (
	"errors"
	"time"
)

// ErrNoSamples is returned when an operation requires decoded audio but the
// sample buffer is empty.
var ErrNoSamples = errors.New("no audio samples")

// Metadata describes a decoded or extracted audio stream.
type Metadata struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// SpeechRegion is a half-open time range [Start, End) of detected speech,
// measured from the beginning of the source. Regions produced by the VAD are
// non-overlapping and sorted ascending by Start.
type SpeechRegion struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the region.
func (r SpeechRegion) Duration() time.Duration {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// ProviderLimits are the per-request constraints a transcription provider
// imposes on chunk audio.
type ProviderLimits struct {
	MaxDuration time.Duration
	MaxBytes    int64
}

// Chunk is a planned slice of source audio to be materialized and submitted
// as a single transcription request. Index is the canonical 0-based position
// used to reassemble results in source order.
type Chunk struct {
	Index          int
	Region         SpeechRegion
	EstimatedBytes int64
}

// Duration returns the chunk's time span.
func (c Chunk) Duration() time.Duration { return c.Region.Duration() }

// TotalSpeech sums the duration of all regions.
func TotalSpeech(regions []SpeechRegion) time.Duration {
	var total time.Duration
	for _, r := range regions {
		total += r.Duration()
	}
	return total
}
