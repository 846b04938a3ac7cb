package subtitle

import (
	"strings"
	"testing"
	"time"
)

func entry(start, end time.Duration, text string) Entry {
	return Entry{Start: start, End: end, Text: text}
}

func TestPostProcessDefaultsMergeCloseEntries(t *testing.T) {
	entries := PostProcess([]Entry{
		entry(0, time.Second, "Hello"),
		entry(1200*time.Millisecond, 2*time.Second, "world"),
	}, DefaultPostProcessConfig())

	if len(entries) != 1 {
		t.Fatalf("expected the default config to merge, got %d entries", len(entries))
	}
	if entries[0].Text != "Hello world" {
		t.Errorf("merged text = %q", entries[0].Text)
	}
}

func TestSplitLongLinesProportionalTiming(t *testing.T) {
	// Two ~equal sentences in a 4s cue should split around the midpoint.
	text := "This is the first sentence. And here the second one"
	entries := splitLongLines([]Entry{entry(0, 4*time.Second, text)}, 42)

	if len(entries) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %+v", len(entries), entries)
	}
	if entries[0].Text != "This is the first sentence." {
		t.Errorf("piece 0 = %q", entries[0].Text)
	}
	if entries[1].Text != "And here the second one" {
		t.Errorf("piece 1 = %q", entries[1].Text)
	}
	if entries[0].Start != 0 {
		t.Errorf("piece 0 start = %v, want 0", entries[0].Start)
	}
	if entries[1].End != 4*time.Second {
		t.Errorf("piece 1 end = %v, want the original 4s", entries[1].End)
	}
	if entries[0].End != entries[1].Start {
		t.Errorf("pieces not contiguous: %v vs %v", entries[0].End, entries[1].Start)
	}
	mid := entries[0].End
	if mid < time.Second || mid > 3*time.Second {
		t.Errorf("split point %v not proportional to text length", mid)
	}
}

func TestSplitLongLinesKeepsShortEntries(t *testing.T) {
	entries := splitLongLines([]Entry{entry(0, time.Second, "short line")}, 42)
	if len(entries) != 1 || entries[0].Text != "short line" {
		t.Fatalf("short entry must pass through unchanged, got %+v", entries)
	}
}

func TestSmartSplit(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{
			name:   "sentence_boundary_preferred",
			text:   "One sentence here. Another, with a comma inside",
			maxLen: 30,
			want:   []string{"One sentence here.", "Another, with a comma inside"},
		},
		{
			name:   "comma_when_no_sentence_end",
			text:   "first clause without ending, second clause",
			maxLen: 30,
			want:   []string{"first clause without ending,", "second clause"},
		},
		{
			name:   "space_as_last_resort",
			text:   "just some plain words with no punctuation at all",
			maxLen: 20,
			want:   []string{"just some plain", "words with no", "punctuation at all"},
		},
		{
			name:   "short_text_untouched",
			text:   "fits fine",
			maxLen: 42,
			want:   []string{"fits fine"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := smartSplit(tt.text, tt.maxLen)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d pieces %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("piece %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			for i, p := range got {
				if n := len([]rune(p)); n > tt.maxLen {
					t.Errorf("piece %d is %d chars, limit %d", i, n, tt.maxLen)
				}
			}
		})
	}
}

func TestSmartSplitHardCut(t *testing.T) {
	text := strings.Repeat("a", 50)
	got := smartSplit(text, 20)
	if len(got) != 3 {
		t.Fatalf("expected 3 hard-cut pieces, got %d", len(got))
	}
	for i, p := range got {
		if len(p) > 20 {
			t.Errorf("piece %d is %d chars, limit 20", i, len(p))
		}
	}
}

func TestAdjustTimingMinDuration(t *testing.T) {
	cfg := DefaultPostProcessConfig()
	entries := adjustTiming([]Entry{entry(0, 300*time.Millisecond, "blip")}, cfg)
	if got := entries[0].End - entries[0].Start; got != cfg.MinDuration {
		t.Errorf("duration = %v, want stretched to %v", got, cfg.MinDuration)
	}
}

func TestAdjustTimingMaxDuration(t *testing.T) {
	cfg := DefaultPostProcessConfig()
	entries := adjustTiming([]Entry{entry(0, 20*time.Second, "rambling")}, cfg)
	if got := entries[0].End - entries[0].Start; got != cfg.MaxDuration {
		t.Errorf("duration = %v, want truncated to %v", got, cfg.MaxDuration)
	}
}

func TestAdjustTimingMinGap(t *testing.T) {
	cfg := DefaultPostProcessConfig()
	entries := adjustTiming([]Entry{
		entry(0, 3*time.Second, "first"),
		entry(3*time.Second+20*time.Millisecond, 6*time.Second, "second"),
	}, cfg)

	gap := entries[1].Start - entries[0].End
	if gap < cfg.MinGap {
		t.Errorf("gap = %v, want >= %v", gap, cfg.MinGap)
	}
	if entries[0].End-entries[0].Start < cfg.MinDuration {
		t.Errorf("first entry shrank below %v", cfg.MinDuration)
	}
}

func TestAdjustTimingShiftsWhenPreviousTooShort(t *testing.T) {
	cfg := DefaultPostProcessConfig()
	// The previous entry is already at minimum duration; the gap must come
	// from shifting the next entry instead of shrinking the previous one.
	entries := adjustTiming([]Entry{
		entry(0, time.Second, "first"),
		entry(time.Second+20*time.Millisecond, 4*time.Second, "second"),
	}, cfg)

	if entries[0].End != time.Second {
		t.Errorf("first end = %v, want kept at 1s", entries[0].End)
	}
	if want := time.Second + cfg.MinGap; entries[1].Start != want {
		t.Errorf("second start = %v, want shifted to %v", entries[1].Start, want)
	}
}

func TestPostProcessRenumbers(t *testing.T) {
	entries := PostProcess([]Entry{
		entry(0, 2*time.Second, strings.Repeat("word ", 20)),
		entry(5*time.Second, 7*time.Second, "tail"),
	}, DefaultPostProcessConfig())

	if len(entries) < 3 {
		t.Fatalf("expected the long cue split plus the tail, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Index != i+1 {
			t.Errorf("entry at position %d has index %d", i, e.Index)
		}
	}
}
