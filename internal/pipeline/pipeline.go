// Package pipeline runs the end-to-end transcription flow: audio
// extraction, speech detection, chunk planning, concurrent transcription,
// and subtitle output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/autosub/internal/audio"
	"github.com/snarg/autosub/internal/metrics"
	"github.com/snarg/autosub/internal/subtitle"
	"github.com/snarg/autosub/internal/transcribe"
)

// Options configures a pipeline run.
type Options struct {
	Provider    transcribe.Provider
	Vad         audio.VadConfig
	Concurrency int
	Retry       transcribe.RetryConfig
	Language    string
	Prompt      string
	Format      string // srt, vtt, or json
	PostProcess subtitle.PostProcessConfig
	Progress    transcribe.ProgressFunc
	Log         zerolog.Logger
}

// Stats summarizes a completed run.
type Stats struct {
	MediaDuration  time.Duration
	SpeechDuration time.Duration
	Regions        int
	Chunks         int
	FailedChunks   int
	Segments       int
	Entries        int
	Language       string
	OutputPath     string
}

// Pipeline transcribes one media file per Run call.
type Pipeline struct {
	opts Options
	log  zerolog.Logger
}

// New creates a pipeline. The provider is required.
func New(opts Options) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("pipeline requires a provider")
	}
	if opts.Format == "" {
		opts.Format = "srt"
	}
	if opts.PostProcess == (subtitle.PostProcessConfig{}) {
		opts.PostProcess = subtitle.DefaultPostProcessConfig()
	}
	if _, err := subtitle.NewFormatter(opts.Format); err != nil {
		return nil, err
	}
	log := opts.Log.With().Str("component", "pipeline").Logger()
	return &Pipeline{opts: opts, log: log}, nil
}

// Run transcribes inputPath and writes subtitles to outputPath. An empty
// outputPath derives the target from the input name and the format
// extension. Chunk-level failures do not abort the run; they are counted
// in Stats and the subtitles cover whatever succeeded.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Stats, error) {
	if !audio.CheckFFmpeg() {
		return nil, errors.New("ffmpeg not found in PATH")
	}

	tmpDir, err := os.MkdirTemp("", "autosub-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	meta, err := audio.ExtractAudio(ctx, inputPath, wavPath)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	p.log.Info().
		Str("input", inputPath).
		Dur("duration", meta.Duration).
		Msg("audio extracted")

	samples, rate, err := audio.DecodeWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}

	regions := audio.DetectSpeechRegions(samples, rate, p.opts.Vad)
	metrics.SpeechRegionsTotal.Add(float64(len(regions)))

	stats := &Stats{
		MediaDuration:  meta.Duration,
		SpeechDuration: audio.TotalSpeech(regions),
		Regions:        len(regions),
	}
	p.log.Info().
		Int("regions", len(regions)).
		Dur("speech", stats.SpeechDuration).
		Msg("speech detected")

	chunks := audio.PlanChunks(regions, p.opts.Provider.Limits())
	stats.Chunks = len(chunks)

	jobs := p.materialize(ctx, wavPath, tmpDir, chunks)

	orch := transcribe.NewOrchestrator(p.opts.Provider, transcribe.Options{
		Concurrency: p.opts.Concurrency,
		Retry:       p.opts.Retry,
		Opts: transcribe.TranscribeOpts{
			Language: p.opts.Language,
			Prompt:   p.opts.Prompt,
		},
		Progress: p.opts.Progress,
		Log:      p.log,
	})
	result, err := orch.ProcessChunks(ctx, jobs)
	if err != nil {
		return nil, err
	}
	stats.FailedChunks = len(result.Failed)
	stats.Segments = len(result.Segments)
	stats.Language = result.Language

	for _, f := range result.Failed {
		p.log.Error().Int("chunk", f.Index).Err(f.Err).Msg("chunk lost")
	}
	if len(chunks) > 0 && len(result.Failed) == len(chunks) {
		return stats, fmt.Errorf("all %d chunks failed, first error: %w",
			len(chunks), result.Failed[0].Err)
	}

	entries := subtitle.Convert(result.Segments, &p.opts.PostProcess)
	stats.Entries = len(entries)

	if outputPath == "" {
		outputPath = OutputPath(inputPath, p.opts.Format)
	}
	stats.OutputPath = outputPath

	formatter := p.formatter(inputPath, result.Language)
	if err := os.WriteFile(outputPath, []byte(formatter.Format(entries)), 0o644); err != nil {
		return stats, fmt.Errorf("write subtitles: %w", err)
	}

	p.log.Info().
		Str("output", outputPath).
		Int("entries", len(entries)).
		Int("failed_chunks", stats.FailedChunks).
		Msg("subtitles written")
	return stats, nil
}

// materialize cuts each planned chunk out of the normalized WAV. A failed
// cut is recorded on the job so the orchestrator reports it per chunk
// instead of aborting the batch.
func (p *Pipeline) materialize(ctx context.Context, wavPath, tmpDir string, chunks []audio.Chunk) []transcribe.ChunkJob {
	jobs := make([]transcribe.ChunkJob, len(chunks))
	for i, c := range chunks {
		path := filepath.Join(tmpDir, fmt.Sprintf("chunk-%03d.wav", c.Index))
		err := audio.ExtractSegment(ctx, wavPath, path, c.Region)
		if err != nil {
			path = ""
		}
		jobs[i] = transcribe.ChunkJob{Chunk: c, Path: path, Err: err}
	}
	return jobs
}

// formatter builds the configured formatter; the JSON variant carries
// per-file metadata.
func (p *Pipeline) formatter(inputPath, language string) subtitle.Formatter {
	if p.opts.Format == "json" {
		return &subtitle.JSONFormatter{
			SourceFile: filepath.Base(inputPath),
			Language:   language,
			Provider:   p.opts.Provider.Name(),
		}
	}
	f, _ := subtitle.NewFormatter(p.opts.Format)
	return f
}

// OutputPath derives the subtitle path from the input name by swapping the
// extension.
func OutputPath(inputPath, ext string) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return base + "." + ext
}
