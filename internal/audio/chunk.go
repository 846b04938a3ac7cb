package audio

import "time"

// Chunk audio is materialized as 16 kHz mono s16le WAV; these constants
// drive the encoded-size estimate the planner checks against provider
// byte limits.
const (
	chunkSampleRate   = 16000
	chunkBytesPerSamp = 2
	wavHeaderSize     = 44
	wavCodecFactor    = 1.0 // PCM, no compression
)

// EstimateWAVSize returns the encoded size of a WAV chunk of the given
// duration at the pipeline's chunk format.
func EstimateWAVSize(d time.Duration) int64 {
	if d <= 0 {
		return wavHeaderSize
	}
	samples := int64(d) * chunkSampleRate / int64(time.Second)
	return wavHeaderSize + int64(float64(samples*chunkBytesPerSamp)*wavCodecFactor)
}

// PlanChunks turns ordered speech regions into provider-conformant chunks.
// Consecutive regions are accumulated greedily while the running chunk stays
// under both the duration and the estimated byte limit; a region that alone
// exceeds either limit is split at the stricter of the two, since providers
// may be stricter than the VAD's own splitting threshold.
// Returned chunk indices are contiguous from 0 in temporal order.
func PlanChunks(regions []SpeechRegion, limits ProviderLimits) []Chunk {
	var spans []SpeechRegion

	var cur *SpeechRegion
	flush := func() {
		if cur != nil {
			spans = append(spans, *cur)
			cur = nil
		}
	}

	splitCap := chunkDurationCap(limits)
	for _, region := range regions {
		for _, r := range splitRegion(region, splitCap) {
			if cur == nil {
				c := r
				cur = &c
				continue
			}
			ext := SpeechRegion{Start: cur.Start, End: r.End}
			if fitsLimits(ext, limits) {
				cur.End = r.End
				continue
			}
			flush()
			c := r
			cur = &c
		}
	}
	flush()

	chunks := make([]Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = Chunk{
			Index:          i,
			Region:         s,
			EstimatedBytes: EstimateWAVSize(s.Duration()),
		}
	}
	return chunks
}

// chunkDurationCap folds both provider limits into one duration cap for
// splitting: the stricter of MaxDuration and the longest duration whose
// encoded WAV size still fits MaxBytes.
func chunkDurationCap(limits ProviderLimits) time.Duration {
	limit := limits.MaxDuration
	if limits.MaxBytes > wavHeaderSize {
		samples := (limits.MaxBytes - wavHeaderSize) / chunkBytesPerSamp
		byBytes := time.Duration(samples * int64(time.Second) / chunkSampleRate)
		if limit <= 0 || byBytes < limit {
			limit = byBytes
		}
	}
	return limit
}

func fitsLimits(r SpeechRegion, limits ProviderLimits) bool {
	if limits.MaxDuration > 0 && r.Duration() > limits.MaxDuration {
		return false
	}
	if limits.MaxBytes > 0 && EstimateWAVSize(r.Duration()) > limits.MaxBytes {
		return false
	}
	return true
}

// splitRegion cuts a region into consecutive sub-regions of at most max,
// gapless and non-overlapping at the cut points.
func splitRegion(r SpeechRegion, max time.Duration) []SpeechRegion {
	if max <= 0 || r.Duration() <= max {
		return []SpeechRegion{r}
	}
	var out []SpeechRegion
	cur := r.Start
	for cur < r.End {
		end := cur + max
		if end > r.End {
			end = r.End
		}
		out = append(out, SpeechRegion{Start: cur, End: end})
		cur = end
	}
	return out
}
