package audio

import (
	"math"
	"sort"
	"time"
)

// VadConfig tunes the energy-based voice activity detector.
// The zero value of EnergyThreshold selects the adaptive threshold.
type VadConfig struct {
	// FrameDuration is the analysis frame size.
	FrameDuration time.Duration

	// MinSpeechDuration discards detected regions shorter than this.
	MinSpeechDuration time.Duration

	// MaxSpeechDuration splits detected regions longer than this.
	MaxSpeechDuration time.Duration

	// EnergyThreshold is the RMS cutoff between silence and speech on
	// normalized samples (0.0-1.0). When 0, the threshold is computed as
	// the 20th percentile of all frame energies, adapting to recording
	// loudness.
	EnergyThreshold float64

	// Padding extends each region outward on both sides and controls how
	// close two regions must be to get merged into one.
	Padding time.Duration
}

// DefaultVadConfig returns the detector defaults.
func DefaultVadConfig() VadConfig {
	return VadConfig{
		FrameDuration:     30 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
		MaxSpeechDuration: 6 * time.Second,
		Padding:           200 * time.Millisecond,
	}
}

// DetectSpeechRegions classifies the sample buffer into speech regions.
// It is deterministic and has no side effects; an empty buffer yields an
// empty slice. Samples must be mono.
func DetectSpeechRegions(samples []int16, sampleRate int, cfg VadConfig) []SpeechRegion {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}

	frameLen := int(int64(sampleRate) * int64(cfg.FrameDuration) / int64(time.Second))
	if frameLen < 1 {
		frameLen = 1
	}

	energies := frameEnergies(samples, frameLen)

	threshold := cfg.EnergyThreshold
	if threshold <= 0 {
		threshold = percentile(energies, 20)
	}

	bufEnd := sampleTime(len(samples), sampleRate)

	raw := collapseSpeechFrames(energies, threshold, frameLen, sampleRate, len(samples))
	padded := padRegions(raw, cfg.Padding, bufEnd)
	merged := mergeCloseRegions(padded, cfg.Padding)

	var regions []SpeechRegion
	for _, r := range merged {
		if r.Duration() < cfg.MinSpeechDuration {
			continue
		}
		if cfg.MaxSpeechDuration > 0 && r.Duration() > cfg.MaxSpeechDuration {
			regions = append(regions, splitAtQuietPoints(r, cfg, energies, frameLen, sampleRate)...)
			continue
		}
		regions = append(regions, r)
	}
	return regions
}

// frameEnergies computes per-frame RMS energy over normalized samples.
// A trailing partial frame is included as long as it holds one sample.
func frameEnergies(samples []int16, frameLen int) []float64 {
	n := len(samples)
	count := (n + frameLen - 1) / frameLen
	energies := make([]float64, 0, count)
	for pos := 0; pos < n; pos += frameLen {
		end := pos + frameLen
		if end > n {
			end = n
		}
		energies = append(energies, rms(samples[pos:end]))
	}
	return energies
}

// rms is the root-mean-square of samples normalized to [-1, 1].
func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / float64(math.MaxInt16)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// percentile returns the p-th percentile of values (nearest-rank).
func percentile(values []float64, p int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// collapseSpeechFrames folds consecutive speech-classified frames into raw
// regions. Region boundaries are expressed in source time via the frame's
// sample offsets.
func collapseSpeechFrames(energies []float64, threshold float64, frameLen, sampleRate, totalSamples int) []SpeechRegion {
	var regions []SpeechRegion
	inSpeech := false
	startFrame := 0

	flush := func(endFrame int) {
		startSample := startFrame * frameLen
		endSample := endFrame * frameLen
		if endSample > totalSamples {
			endSample = totalSamples
		}
		regions = append(regions, SpeechRegion{
			Start: sampleTime(startSample, sampleRate),
			End:   sampleTime(endSample, sampleRate),
		})
	}

	for i, e := range energies {
		speech := e > threshold
		if speech && !inSpeech {
			inSpeech = true
			startFrame = i
		} else if !speech && inSpeech {
			inSpeech = false
			flush(i)
		}
	}
	if inSpeech {
		flush(len(energies))
	}
	return regions
}

// padRegions extends each region outward by pad, clamped to [0, bufEnd].
func padRegions(regions []SpeechRegion, pad, bufEnd time.Duration) []SpeechRegion {
	out := make([]SpeechRegion, 0, len(regions))
	for _, r := range regions {
		start := r.Start - pad
		if start < 0 {
			start = 0
		}
		end := r.End + pad
		if end > bufEnd {
			end = bufEnd
		}
		out = append(out, SpeechRegion{Start: start, End: end})
	}
	return out
}

// mergeCloseRegions joins any two regions separated by less than gap, so a
// brief pause inside one utterance does not fragment it.
func mergeCloseRegions(regions []SpeechRegion, gap time.Duration) []SpeechRegion {
	var merged []SpeechRegion
	for _, r := range regions {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if r.Start-last.End < gap {
				if r.End > last.End {
					last.End = r.End
				}
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}

// splitAtQuietPoints cuts an over-long region into sub-regions of at most
// MaxSpeechDuration, preferring the quietest frame inside a search window
// just before the hard limit. Falls back to a hard cut at the limit when
// the window has no frames.
func splitAtQuietPoints(r SpeechRegion, cfg VadConfig, energies []float64, frameLen, sampleRate int) []SpeechRegion {
	// The window reaches back one second from the ideal cut point but
	// never past the minimum region length.
	searchWindow := time.Second
	if searchWindow > cfg.MaxSpeechDuration/2 {
		searchWindow = cfg.MaxSpeechDuration / 2
	}

	frameDur := sampleTime(frameLen, sampleRate)

	var out []SpeechRegion
	cur := r.Start
	for r.End-cur > cfg.MaxSpeechDuration {
		ideal := cur + cfg.MaxSpeechDuration
		cut := ideal

		winStart := ideal - searchWindow
		if winStart < cur+cfg.MinSpeechDuration {
			winStart = cur + cfg.MinSpeechDuration
		}
		if best, ok := quietestFrame(energies, frameDur, winStart, ideal); ok {
			cut = best
		}
		out = append(out, SpeechRegion{Start: cur, End: cut})
		cur = cut
	}
	out = append(out, SpeechRegion{Start: cur, End: r.End})
	return out
}

// quietestFrame returns the start time of the lowest-energy frame whose
// start falls in [from, to).
func quietestFrame(energies []float64, frameDur time.Duration, from, to time.Duration) (time.Duration, bool) {
	if frameDur <= 0 || to <= from {
		return 0, false
	}
	first := int((from + frameDur - 1) / frameDur)
	last := int(to / frameDur)
	if first < 0 {
		first = 0
	}

	best := -1
	for i := first; i < last && i < len(energies); i++ {
		if best == -1 || energies[i] < energies[best] {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return time.Duration(best) * frameDur, true
}

// sampleTime converts a sample offset to source time.
func sampleTime(sample, sampleRate int) time.Duration {
	return time.Duration(int64(sample) * int64(time.Second) / int64(sampleRate))
}
