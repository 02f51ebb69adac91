package selector

import (
	"math"
	"strconv"
	"strings"

	"vodstream/catalogservice/internal/domain"
)

const (
	defaultMaxSpeedKBps = 1024
	defaultMinPingMS    = 50
	defaultMaxPingMS    = 1000
	unknownSpeedScore   = 30

	qualityWeight = 0.4
	speedWeight   = 0.4
	pingWeight    = 0.2
)

var qualityScores = map[domain.ResolutionClass]float64{
	domain.Resolution4K:    100,
	domain.Resolution2K:    85,
	domain.Resolution1080p: 75,
	domain.Resolution720p:  60,
	domain.Resolution480p:  40,
	domain.ResolutionSD:    20,
}

// Bounds are the normalization ranges derived from successful probes.
type Bounds struct {
	MaxSpeedKBps float64
	MinPingMS    int64
	MaxPingMS    int64
}

// ComputeBounds derives the ranges from successful probe results; missing
// values fall back to 1024 KB/s and 50..1000 ms.
func ComputeBounds(results []domain.ProbeResult) Bounds {
	bounds := Bounds{}
	for _, result := range results {
		if speed, ok := ParseSpeedKBps(result.LoadSpeed); ok && speed > bounds.MaxSpeedKBps {
			bounds.MaxSpeedKBps = speed
		}
		if result.PingMS <= 0 {
			continue
		}
		if bounds.MinPingMS == 0 || result.PingMS < bounds.MinPingMS {
			bounds.MinPingMS = result.PingMS
		}
		if result.PingMS > bounds.MaxPingMS {
			bounds.MaxPingMS = result.PingMS
		}
	}
	if bounds.MaxSpeedKBps <= 0 {
		bounds.MaxSpeedKBps = defaultMaxSpeedKBps
	}
	if bounds.MaxPingMS <= 0 {
		bounds.MinPingMS = defaultMinPingMS
		bounds.MaxPingMS = defaultMaxPingMS
	}
	return bounds
}

// Score combines quality, speed and ping into a value in [0, 100] with two
// decimals. Extra decimals are cut, not rounded.
func Score(result domain.ProbeResult, bounds Bounds) float64 {
	total := qualityScores[result.Quality]*qualityWeight +
		speedScore(result.LoadSpeed, bounds)*speedWeight +
		pingScore(result.PingMS, bounds)*pingWeight
	return math.Floor(total*100+1e-9) / 100
}

func speedScore(loadSpeed string, bounds Bounds) float64 {
	speed, ok := ParseSpeedKBps(loadSpeed)
	if !ok {
		return unknownSpeedScore
	}
	return clamp(100 * speed / bounds.MaxSpeedKBps)
}

func pingScore(ping int64, bounds Bounds) float64 {
	if ping <= 0 {
		return 0
	}
	if bounds.MinPingMS == bounds.MaxPingMS {
		return 100
	}
	return clamp(100 * float64(bounds.MaxPingMS-ping) / float64(bounds.MaxPingMS-bounds.MinPingMS))
}

func clamp(value float64) float64 {
	return math.Min(100, math.Max(0, value))
}

// ParseSpeedKBps converts "<number><unit>/s" with units B, KB, MB or GB
// (1024-based) into kilobytes per second.
func ParseSpeedKBps(raw string) (float64, bool) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.TrimSuffix(value, "/S")
	value = strings.TrimSuffix(value, "PS")
	if value == "" {
		return 0, false
	}

	multiplier := 0.0
	for _, unit := range []struct {
		suffix string
		factor float64
	}{
		{"GB", 1024 * 1024},
		{"MB", 1024},
		{"KB", 1},
		{"B", 1.0 / 1024},
	} {
		if strings.HasSuffix(value, unit.suffix) {
			multiplier = unit.factor
			value = strings.TrimSpace(strings.TrimSuffix(value, unit.suffix))
			break
		}
	}
	if multiplier == 0 {
		return 0, false
	}
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number * multiplier, true
}
