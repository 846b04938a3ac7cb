package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/autosub/internal/audio"
)

const (
	geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

	geminiMaxBytes    = 20 * 1024 * 1024 // inline-data request ceiling
	geminiMaxDuration = 60 * time.Second
)

// timestampLine matches "[MM:SS] text" or "[HH:MM:SS] text" prefixed lines
// in the model's output.
var timestampLine = regexp.MustCompile(`\[(\d{1,2}):(\d{2})(?::(\d{2}))?\]\s*([^\[]+)`)

// GeminiClient transcribes chunks through the Gemini generateContent API by
// prompting the model for timestamped transcript lines.
// Implements the Provider interface.
type GeminiClient struct {
	apiKey      string
	model       string // e.g. "gemini-2.0-flash"
	diarization bool
	client      *http.Client
}

// Request/response shapes for generateContent, trimmed to the fields the
// transcription path uses.
type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient creates a Gemini transcription client.
func NewGeminiClient(apiKey, model string, diarization bool, timeout time.Duration) *GeminiClient {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		apiKey:      apiKey,
		model:       model,
		diarization: diarization,
		client:      &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (gc *GeminiClient) Name() string { return "gemini" }

// Limits returns the per-request constraints for chunk planning.
func (gc *GeminiClient) Limits() audio.ProviderLimits {
	return audio.ProviderLimits{MaxDuration: geminiMaxDuration, MaxBytes: geminiMaxBytes}
}

// Transcribe sends one chunk inline (base64) and parses the model's
// timestamped lines into chunk-relative segments.
func (gc *GeminiClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Transcript, error) {
	raw, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, &Error{Kind: KindNonRetryable, Err: fmt.Errorf("read audio file: %w", err)}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: gc.buildPrompt(opts.Language)},
				{InlineData: &geminiInlineData{
					MimeType: "audio/wav",
					Data:     base64.StdEncoding.EncodeToString(raw),
				}},
			},
		}},
		GenerationConfig: geminiGenConfig{Temperature: 0, MaxOutputTokens: 8192},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(geminiEndpoint, gc.model) + "?key=" + gc.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := gc.client.Do(req)
	if err != nil {
		return nil, transportError(fmt.Errorf("gemini request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode,
			parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("gemini API: %s", tail(string(body), 300)))
	}

	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindNonRetryable, Err: fmt.Errorf("decode response: %w", err)}
	}

	text := ""
	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		text = result.Candidates[0].Content.Parts[0].Text
	}

	return &Transcript{
		Segments: parseTimestampedText(text, opts.ChunkDuration),
		Language: opts.Language,
		Duration: opts.ChunkDuration,
	}, nil
}

// buildPrompt asks the model for one timestamped line per utterance.
func (gc *GeminiClient) buildPrompt(language string) string {
	var b strings.Builder
	b.WriteString("Transcribe this audio with precise timestamps.\n\n")
	b.WriteString("Format each line as:\n[MM:SS] Text of what was said\n\n")
	if language != "" {
		fmt.Fprintf(&b, "The audio is in %s language.\n", language)
	}
	if gc.diarization {
		b.WriteString("Identify different speakers and label them as Speaker 1, Speaker 2, etc.\n")
		b.WriteString("Format: [MM:SS] Speaker N: Text\n")
	}
	b.WriteString("\nProvide accurate timestamps for each segment of speech.")
	return b.String()
}

// parseTimestampedText turns "[MM:SS] text" lines into chunk-relative
// segments. Each segment ends where the next begins; the last one runs to
// the chunk end. Text without any timestamp collapses into a single
// full-chunk segment.
func parseTimestampedText(text string, chunkDuration time.Duration) []Segment {
	var segments []Segment

	for _, m := range timestampLine.FindAllStringSubmatch(text, -1) {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])

		var start time.Duration
		if m[3] != "" {
			third, _ := strconv.Atoi(m[3])
			start = time.Duration(first)*time.Hour + time.Duration(second)*time.Minute + time.Duration(third)*time.Second
		} else {
			start = time.Duration(first)*time.Minute + time.Duration(second)*time.Second
		}

		speaker, body := splitSpeakerLabel(strings.TrimSpace(m[4]))
		if body == "" {
			continue
		}

		if len(segments) > 0 {
			segments[len(segments)-1].End = start
		}
		segments = append(segments, Segment{
			Text:    body,
			Start:   start,
			End:     chunkDuration,
			Speaker: speaker,
		})
	}

	if len(segments) == 0 {
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			segments = append(segments, Segment{
				Text: strings.Join(lines, " "),
				End:  chunkDuration,
			})
		}
	}

	return segments
}

// splitSpeakerLabel peels a leading "Speaker N:" label off a line.
func splitSpeakerLabel(line string) (speaker, text string) {
	before, after, found := strings.Cut(line, ":")
	if found && strings.Contains(strings.ToLower(before), "speaker") {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return "", line
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
