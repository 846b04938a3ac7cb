// Package subtitle renders transcript segments as SRT, WebVTT, or JSON
// subtitle documents.
package subtitle

import (
	"fmt"
	"time"
)

// Entry is one subtitle cue. Indices are 1-based, per the SRT convention.
type Entry struct {
	Index   int
	Start   time.Duration
	End     time.Duration
	Text    string
	Speaker string
}

// Formatter renders entries into one of the output formats.
type Formatter interface {
	Format(entries []Entry) string
	Extension() string
}

// NewFormatter returns the formatter for a format name ("srt", "vtt",
// "json").
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "srt":
		return SRTFormatter{}, nil
	case "vtt":
		return VTTFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown subtitle format %q", format)
	}
}
