package subtitle

import (
	"fmt"
	"strings"

	"github.com/snarg/autosub/internal/transcribe"
)

// Convert turns transcript segments into subtitle entries: speaker labels
// become a "[Speaker] text" prefix and overlapping cues are clipped so each
// ends where the next begins. A non-nil cfg additionally runs PostProcess.
func Convert(segments []transcribe.Segment, cfg *PostProcessConfig) []Entry {
	entries := make([]Entry, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if s.Speaker != "" {
			text = fmt.Sprintf("[%s] %s", s.Speaker, text)
		}
		entries = append(entries, Entry{
			Start:   s.Start,
			End:     s.End,
			Text:    text,
			Speaker: s.Speaker,
		})
	}

	entries = fixOverlaps(entries)
	if cfg != nil {
		entries = PostProcess(entries, *cfg)
	}
	return renumber(entries)
}

// fixOverlaps clips each entry's end to the next entry's start.
func fixOverlaps(entries []Entry) []Entry {
	for i := 1; i < len(entries); i++ {
		if entries[i].Start < entries[i-1].End {
			entries[i-1].End = entries[i].Start
		}
	}
	return entries
}

func renumber(entries []Entry) []Entry {
	for i := range entries {
		entries[i].Index = i + 1
	}
	return entries
}
