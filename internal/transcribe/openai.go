package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snarg/autosub/internal/audio"
)

// OpenAIClient calls the hosted OpenAI transcription API.
// Implements the Provider interface.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a hosted OpenAI transcription client.
// Model defaults to whisper-1, the only hosted model with verbose_json
// segment timestamps.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Name returns the provider name.
func (oc *OpenAIClient) Name() string { return "openai" }

// Limits returns the per-request constraints for chunk planning.
func (oc *OpenAIClient) Limits() audio.ProviderLimits {
	return audio.ProviderLimits{MaxDuration: whisperMaxDuration, MaxBytes: whisperMaxBytes}
}

// Transcribe uploads one chunk file and returns the chunk-relative
// transcript.
func (oc *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Transcript, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    oc.model,
		FilePath: audioPath,
		Language: opts.Language,
		Prompt:   opts.Prompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	r := whisperResponse{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, s := range resp.Segments {
		r.Segments = append(r.Segments, whisperSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, w := range resp.Words {
		r.Words = append(r.Words, whisperWord{Word: w.Word, Start: w.Start, End: w.End})
	}
	return convertWhisperResponse(r), nil
}

// classifyOpenAIError maps go-openai errors onto the retry taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, 0,
			fmt.Errorf("openai API: %s", strings.TrimSpace(apiErr.Message)))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, 0, fmt.Errorf("openai API: %w", reqErr))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return transportError(fmt.Errorf("openai request: %w", err))
}
