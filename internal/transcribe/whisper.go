package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snarg/autosub/internal/audio"
)

// Self-hosted endpoints accept the same limits as the hosted Whisper API.
const (
	whisperMaxBytes    = 25 * 1024 * 1024
	whisperMaxDuration = 10 * time.Minute
)

// WhisperClient calls a self-hosted OpenAI-compatible
// /v1/audio/transcriptions endpoint (speaches, faster-whisper-server).
// Implements the Provider interface.
type WhisperClient struct {
	url    string
	model  string
	apiKey string // optional; many self-hosted servers ignore auth
	client *http.Client
}

// whisperResponse is the parsed verbose_json response.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
	Words    []whisperWord    `json:"words"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a client for a self-hosted Whisper server.
func NewWhisperClient(url, model, apiKey string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Limits returns the per-request constraints for chunk planning.
func (wc *WhisperClient) Limits() audio.ProviderLimits {
	return audio.ProviderLimits{MaxDuration: whisperMaxDuration, MaxBytes: whisperMaxBytes}
}

// Transcribe sends one chunk file as multipart/form-data and returns the
// chunk-relative transcript. Only non-default parameters are sent, so this
// works with any OpenAI-compatible endpoint.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, &Error{Kind: KindNonRetryable, Err: fmt.Errorf("open audio file: %w", err)}
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	if opts.Prompt != "" {
		w.WriteField("prompt", opts.Prompt)
	}

	// verbose_json carries segment and word timestamps.
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	w.WriteField("timestamp_granularities[]", "word")

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, transportError(fmt.Errorf("whisper request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode,
			parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("whisper API: %s", strings.TrimSpace(string(body))))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindNonRetryable, Err: fmt.Errorf("decode response: %w", err)}
	}

	return convertWhisperResponse(result), nil
}

// convertWhisperResponse maps verbose_json into the common Transcript form,
// attaching word timestamps to the segment whose span contains them.
func convertWhisperResponse(r whisperResponse) *Transcript {
	t := &Transcript{
		Language: r.Language,
		Duration: secsToDuration(r.Duration),
	}

	if len(r.Segments) == 0 {
		text := strings.TrimSpace(r.Text)
		if text != "" {
			t.Segments = []Segment{{
				Text: text,
				End:  secsToDuration(r.Duration),
			}}
		}
		return t
	}

	for _, s := range r.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, Segment{
			Text:  text,
			Start: secsToDuration(s.Start),
			End:   secsToDuration(s.End),
		})
	}

	for _, w := range r.Words {
		word := Word{
			Word:  w.Word,
			Start: secsToDuration(w.Start),
			End:   secsToDuration(w.End),
		}
		for i := range t.Segments {
			if word.Start < t.Segments[i].End || i == len(t.Segments)-1 {
				t.Segments[i].Words = append(t.Segments[i].Words, word)
				break
			}
		}
	}

	return t
}

func secsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
