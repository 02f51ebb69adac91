package domain

import (
	"encoding/json"
	"strings"
)

// ResolutionClass is an ordinal; a greater value is a better picture.
type ResolutionClass int

const (
	ResolutionUnknown ResolutionClass = iota
	ResolutionSD
	Resolution480p
	Resolution720p
	Resolution1080p
	Resolution2K
	Resolution4K
)

var resolutionNames = map[ResolutionClass]string{
	ResolutionUnknown: "unknown",
	ResolutionSD:      "SD",
	Resolution480p:    "480p",
	Resolution720p:    "720p",
	Resolution1080p:   "1080p",
	Resolution2K:      "2K",
	Resolution4K:      "4K",
}

func (c ResolutionClass) String() string {
	if name, ok := resolutionNames[c]; ok {
		return name
	}
	return "unknown"
}

func ParseResolutionClass(raw string) ResolutionClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "4k", "2160p", "uhd":
		return Resolution4K
	case "2k", "1440p":
		return Resolution2K
	case "1080p", "fhd":
		return Resolution1080p
	case "720p", "hd":
		return Resolution720p
	case "480p":
		return Resolution480p
	case "sd":
		return ResolutionSD
	default:
		return ResolutionUnknown
	}
}

// ResolutionClassFromSize classifies a decoded frame size by its width,
// falling back to height for portrait or odd aspect ratios.
func ResolutionClassFromSize(width, height int) ResolutionClass {
	if width <= 0 && height <= 0 {
		return ResolutionUnknown
	}
	switch {
	case width >= 3840 || height >= 2160:
		return Resolution4K
	case width >= 2560 || height >= 1440:
		return Resolution2K
	case width >= 1920 || height >= 1080:
		return Resolution1080p
	case width >= 1280 || height >= 720:
		return Resolution720p
	case width >= 854 || height >= 480:
		return Resolution480p
	default:
		return ResolutionSD
	}
}

func (c ResolutionClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ResolutionClass) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseResolutionClass(raw)
	return nil
}

const (
	LoadSpeedUnknown   = "unknown"
	LoadSpeedMeasuring = "measuring"
)

// ProbeResult is what one quality probe reports for a playback URL.
// LoadSpeed is textual ("512.0KB/s", "2.1MB/s", "unknown"); the selector
// normalizes it to KB/s.
type ProbeResult struct {
	Quality   ResolutionClass `json:"quality"`
	LoadSpeed string          `json:"loadSpeed"`
	PingMS    int64           `json:"pingTime"`
}

// ProbeOutcome keeps failed and skipped probes visible to callers.
type ProbeOutcome struct {
	Result  *ProbeResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
	Skipped bool         `json:"skipped,omitempty"`
}

func (o ProbeOutcome) OK() bool {
	return o.Result != nil && o.Error == "" && !o.Skipped
}

type ScoredCandidate struct {
	Entry CatalogEntry `json:"entry"`
	Probe ProbeResult  `json:"probe"`
	Score float64      `json:"score"`
}
