package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// SRTFormatter renders SubRip text.
type SRTFormatter struct{}

func (SRTFormatter) Extension() string { return "srt" }

func (SRTFormatter) Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			e.Index, srtTimestamp(e.Start), srtTimestamp(e.End), e.Text)
	}
	return b.String()
}

// srtTimestamp formats HH:MM:SS,mmm with a comma millisecond separator.
func srtTimestamp(d time.Duration) string {
	h, m, s, ms := clockParts(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func clockParts(d time.Duration) (h, m, s, ms int64) {
	total := int64(d / time.Second)
	return total / 3600, (total % 3600) / 60, total % 60,
		int64(d/time.Millisecond) % 1000
}
