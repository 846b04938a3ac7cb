package subtitle

import (
	"strings"
	"time"
)

// PostProcessConfig tunes subtitle cleanup for readability. A zero field
// disables the corresponding step.
type PostProcessConfig struct {
	MergeThreshold time.Duration // join same-speaker cues whose gap is below this
	MaxLineLength  int           // split cue text longer than this many characters
	MinGap         time.Duration // minimum silence between consecutive cues
	MinDuration    time.Duration // stretch cues shorter than this
	MaxDuration    time.Duration // truncate cues longer than this
}

// DefaultPostProcessConfig returns the standard cleanup settings.
func DefaultPostProcessConfig() PostProcessConfig {
	return PostProcessConfig{
		MergeThreshold: time.Second,
		MaxLineLength:  42,
		MinGap:         100 * time.Millisecond,
		MinDuration:    time.Second,
		MaxDuration:    7 * time.Second,
	}
}

// PostProcess cleans entries up for display: merges close same-speaker cues,
// splits overlong text with proportional re-timing, and enforces gap and
// duration bounds. Entries come back renumbered.
func PostProcess(entries []Entry, cfg PostProcessConfig) []Entry {
	if cfg.MergeThreshold > 0 {
		entries = mergeClose(entries, cfg.MergeThreshold)
	}
	if cfg.MaxLineLength > 0 {
		entries = splitLongLines(entries, cfg.MaxLineLength)
	}
	entries = adjustTiming(entries, cfg)
	return renumber(entries)
}

// mergeClose joins consecutive entries from the same speaker whose gap is
// below the threshold.
func mergeClose(entries []Entry, threshold time.Duration) []Entry {
	if len(entries) == 0 {
		return entries
	}
	out := entries[:1]
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if e.Speaker == last.Speaker && e.Start-last.End < threshold {
			last.End = e.End
			last.Text = strings.TrimSpace(last.Text) + " " + strings.TrimSpace(e.Text)
			continue
		}
		out = append(out, e)
	}
	return out
}

// splitLongLines breaks entries whose text exceeds maxLen characters into
// several cues, distributing the time span proportionally to text length.
// The last piece keeps the original end time.
func splitLongLines(entries []Entry, maxLen int) []Entry {
	var out []Entry
	for _, e := range entries {
		parts := smartSplit(e.Text, maxLen)
		if len(parts) <= 1 {
			out = append(out, e)
			continue
		}

		total := e.End - e.Start
		totalChars := 0
		for _, p := range parts {
			totalChars += len([]rune(p))
		}

		start := e.Start
		for i, p := range parts {
			end := e.End
			if i < len(parts)-1 && totalChars > 0 {
				share := float64(len([]rune(p))) / float64(totalChars)
				end = start + time.Duration(float64(total)*share)
			}
			out = append(out, Entry{Start: start, End: end, Text: p, Speaker: e.Speaker})
			start = end
		}
	}
	return out
}

// smartSplit cuts text into pieces of at most maxLen characters, preferring
// sentence ends over commas over spaces; a window with none of those is cut
// hard at maxLen.
func smartSplit(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			parts = append(parts, strings.TrimSpace(string(runes)))
			break
		}
		cut := bestSplit(runes[:maxLen])
		if cut < 0 {
			cut = maxLen - 1
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut+1])))
		runes = runes[cut+1:]
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// bestSplit returns the index of the last sentence end, else the last comma,
// else the last space in the window, or -1.
func bestSplit(window []rune) int {
	lastEnd, lastComma, lastSpace := -1, -1, -1
	for i, r := range window {
		switch r {
		case '.', '!', '?':
			lastEnd = i
		case ',':
			lastComma = i
		case ' ':
			lastSpace = i
		}
	}
	if lastEnd >= 0 {
		return lastEnd
	}
	if lastComma >= 0 {
		return lastComma
	}
	return lastSpace
}

// adjustTiming enforces duration bounds per entry and a minimum gap between
// neighbors. When shrinking the previous entry to create the gap would make
// it too short, the current entry is shifted forward instead.
func adjustTiming(entries []Entry, cfg PostProcessConfig) []Entry {
	for i := range entries {
		e := &entries[i]

		if cfg.MinDuration > 0 && e.End-e.Start < cfg.MinDuration {
			e.End = e.Start + cfg.MinDuration
		}
		if cfg.MaxDuration > 0 && e.End-e.Start > cfg.MaxDuration {
			e.End = e.Start + cfg.MaxDuration
		}

		if i == 0 {
			continue
		}
		prev := &entries[i-1]
		if cfg.MinGap > 0 && e.Start-prev.End < cfg.MinGap {
			prev.End = e.Start - cfg.MinGap
			if cfg.MinDuration > 0 && prev.End-prev.Start < cfg.MinDuration {
				prev.End = prev.Start + cfg.MinDuration
				e.Start = prev.End + cfg.MinGap
			}
		}
		if e.Start < prev.End {
			e.Start = prev.End + cfg.MinGap
		}
		if e.End < e.Start {
			e.End = e.Start + cfg.MinDuration
		}
	}
	return entries
}
