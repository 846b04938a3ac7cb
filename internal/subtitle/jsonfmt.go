package subtitle

import "encoding/json"

// JSONFormatter renders a machine-readable document with per-file metadata
// alongside the cues.
type JSONFormatter struct {
	SourceFile string
	Language   string
	Provider   string
}

func (f *JSONFormatter) Extension() string { return "json" }

type jsonDocument struct {
	Metadata  jsonMetadata   `json:"metadata"`
	Subtitles []jsonSubtitle `json:"subtitles"`
}

type jsonMetadata struct {
	SourceFile    string `json:"source_file,omitempty"`
	Language      string `json:"language,omitempty"`
	Provider      string `json:"provider,omitempty"`
	SubtitleCount int    `json:"subtitle_count"`
}

type jsonSubtitle struct {
	Index          int     `json:"index"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	StartFormatted string  `json:"start_formatted"`
	EndFormatted   string  `json:"end_formatted"`
	Text           string  `json:"text"`
	Speaker        string  `json:"speaker,omitempty"`
}

func (f *JSONFormatter) Format(entries []Entry) string {
	doc := jsonDocument{
		Metadata: jsonMetadata{
			SourceFile:    f.SourceFile,
			Language:      f.Language,
			Provider:      f.Provider,
			SubtitleCount: len(entries),
		},
		Subtitles: make([]jsonSubtitle, len(entries)),
	}
	for i, e := range entries {
		doc.Subtitles[i] = jsonSubtitle{
			Index:          e.Index,
			Start:          e.Start.Seconds(),
			End:            e.End.Seconds(),
			StartFormatted: vttTimestamp(e.Start),
			EndFormatted:   vttTimestamp(e.End),
			Text:           e.Text,
			Speaker:        e.Speaker,
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}
