package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ffmpegAvailable caches whether ffmpeg is in PATH (checked once at startup).
var ffmpegAvailable *bool

// CheckFFmpeg checks if ffmpeg is available in PATH. Call once at startup.
func CheckFFmpeg() bool {
	if ffmpegAvailable != nil {
		return *ffmpegAvailable
	}
	_, err := exec.LookPath("ffmpeg")
	avail := err == nil
	ffmpegAvailable = &avail
	return avail
}

// ProbeDuration reads the source duration via ffprobe.
func ProbeDuration(ctx context.Context, input string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ExtractAudio decodes the input media file to a mono 16 kHz s16le WAV at
// outPath, the format the VAD and every provider consume.
func ExtractAudio(ctx context.Context, input, outPath string) (Metadata, error) {
	if _, err := os.Stat(input); err != nil {
		return Metadata{}, fmt.Errorf("input file: %w", err)
	}

	duration, err := ProbeDuration(ctx, input)
	if err != nil {
		return Metadata{}, err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(chunkSampleRate),
		"-ac", "1",
		outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return Metadata{}, fmt.Errorf("ffmpeg extract: %w: %s", err, tail(stderr.String(), 400))
	}

	return Metadata{Duration: duration, SampleRate: chunkSampleRate, Channels: 1}, nil
}

// ExtractSegment materializes one chunk's time range from the extracted
// master WAV into its own file. The caller owns the output file and must
// remove it once the chunk reaches a terminal state.
func ExtractSegment(ctx context.Context, input, outPath string, region SpeechRegion) error {
	d := region.Duration()
	if d <= 0 {
		return fmt.Errorf("segment %v-%v has no duration", region.Start, region.End)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", fmt.Sprintf("%.3f", region.Start.Seconds()),
		"-t", fmt.Sprintf("%.3f", d.Seconds()),
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(chunkSampleRate),
		"-ac", "1",
		outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg segment %d-%dms: %w: %s",
			region.Start.Milliseconds(), region.End.Milliseconds(), err, tail(stderr.String(), 400))
	}
	return nil
}

// tail returns at most the last n bytes of s, for keeping ffmpeg's verbose
// stderr out of error chains.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
