package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/autosub/internal/audio"
	"github.com/snarg/autosub/internal/config"
	"github.com/snarg/autosub/internal/metrics"
	"github.com/snarg/autosub/internal/pipeline"
	"github.com/snarg/autosub/internal/subtitle"
	"github.com/snarg/autosub/internal/transcribe"
	"github.com/snarg/autosub/internal/watch"
)

var version = "dev"

func main() {
	var (
		envFile     = flag.String("env-file", "", "path to .env file (default .env)")
		provider    = flag.String("provider", "", "transcription provider: whisper, openai, or gemini")
		format      = flag.String("format", "", "output format: srt, vtt, or json")
		language    = flag.String("language", "", "spoken language hint (ISO 639-1)")
		output      = flag.String("output", "", "output path (default: input name with subtitle extension)")
		concurrency = flag.Int("concurrency", 0, "max concurrent transcription requests")
		metricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
		logLevel    = flag.String("log-level", "", "log level: trace, debug, info, warn, error")
		watchMode   = flag.Bool("watch", false, "treat the argument as a directory and transcribe new media files as they appear")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: autosub [flags] <media-file>\n       autosub [flags] -watch <directory>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("autosub", version)
		return
	}

	early := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		Provider:    *provider,
		Format:      *format,
		Language:    *language,
		Concurrency: *concurrency,
		MetricsAddr: *metricsAddr,
		LogLevel:    *logLevel,
	})
	if err != nil {
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("provider", cfg.Provider).Msg("autosub starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	prov, err := buildProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider")
	}

	vad := audio.DefaultVadConfig()
	vad.MinSpeechDuration = cfg.MinSpeechDuration
	vad.MaxSpeechDuration = cfg.MaxSpeechDuration
	vad.Padding = cfg.SpeechPadding
	vad.EnergyThreshold = cfg.EnergyThreshold

	retry := transcribe.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryAttempts

	post := subtitle.DefaultPostProcessConfig()
	post.MergeThreshold = cfg.MergeGap
	post.MaxLineLength = cfg.MaxLineLength

	p, err := pipeline.New(pipeline.Options{
		Provider:    prov,
		Vad:         vad,
		Concurrency: cfg.Concurrency,
		Retry:       retry,
		Language:    cfg.Language,
		Prompt:      cfg.Prompt,
		Format:      cfg.Format,
		PostProcess: post,
		Progress: func(done, total int) {
			log.Info().Int("done", done).Int("total", total).Msg("chunk finished")
		},
		Log: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	if *watchMode {
		w := watch.New(inputPath, func(ctx context.Context, path string) {
			stats, err := p.Run(ctx, path, "")
			if err != nil {
				log.Error().Err(err).Str("file", path).Msg("transcription failed")
				return
			}
			log.Info().
				Str("output", stats.OutputPath).
				Int("entries", stats.Entries).
				Int("failed_chunks", stats.FailedChunks).
				Msg("file transcribed")
		}, log)
		if err := w.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("watcher failed")
		}
		return
	}

	start := time.Now()
	stats, err := p.Run(ctx, inputPath, *output)
	if err != nil {
		log.Fatal().Err(err).Msg("transcription failed")
	}

	log.Info().
		Str("output", stats.OutputPath).
		Dur("media", stats.MediaDuration).
		Dur("speech", stats.SpeechDuration).
		Int("chunks", stats.Chunks).
		Int("entries", stats.Entries).
		Dur("took", time.Since(start)).
		Msg("done")

	if stats.FailedChunks > 0 {
		log.Warn().
			Int("failed", stats.FailedChunks).
			Int("total", stats.Chunks).
			Msg("some chunks failed, subtitles are incomplete")
		os.Exit(1)
	}
}

// buildProvider wires the configured transcription backend.
func buildProvider(cfg *config.Config) (transcribe.Provider, error) {
	switch cfg.Provider {
	case "whisper":
		return transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, "", cfg.RequestTimeout), nil
	case "openai":
		return transcribe.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "gemini":
		return transcribe.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiDiarization, cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
