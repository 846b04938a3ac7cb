// Package transcribe dispatches planned audio chunks to remote speech-to-text
// providers and reassembles the results in source order.
package transcribe

import (
	"context"
	"time"

	"github.com/snarg/autosub/internal/audio"
)

// Provider is the interface for speech-to-text backends.
// Transcribe receives one materialized chunk file and returns a transcript
// with chunk-relative timestamps; the orchestrator re-bases them to source
// time. Implementations report failures as *Error so the orchestrator can
// tell retryable conditions from permanent ones.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Transcript, error)
	Name() string // "openai", "gemini", "whisper"

	// Limits returns the per-request constraints the chunk planner must
	// honor for this provider.
	Limits() audio.ProviderLimits
}

// TranscribeOpts are per-request options shared by all providers.
// Zero-value fields are omitted from requests.
type TranscribeOpts struct {
	Language string // ISO 639-1 source language
	Prompt   string // vocabulary hints, where the provider supports them

	// ChunkDuration is the length of the submitted audio. Providers that
	// return open-ended timestamps use it to close the final segment.
	ChunkDuration time.Duration
}

// Transcript is the common transcription result from any provider.
type Transcript struct {
	Segments []Segment
	Language string
	Duration time.Duration
}

// Segment is one timed span of transcribed text. Start and End are relative
// to the chunk the provider saw, not to the source.
type Segment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Words      []Word  // nil if the provider has no word timestamps
	Confidence float64 // 0 if the provider reports none
	Speaker    string  // "" if the provider has no diarization
}

// Word is a timestamped word, chunk-relative like its segment.
type Word struct {
	Word  string
	Start time.Duration
	End   time.Duration
}
