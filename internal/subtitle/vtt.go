package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// VTTFormatter renders WebVTT.
type VTTFormatter struct{}

func (VTTFormatter) Extension() string { return "vtt" }

func (VTTFormatter) Format(entries []Entry) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			vttTimestamp(e.Start), vttTimestamp(e.End), e.Text)
	}
	return b.String()
}

// vttTimestamp formats HH:MM:SS.mmm with a dot millisecond separator.
func vttTimestamp(d time.Duration) string {
	h, m, s, ms := clockParts(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
