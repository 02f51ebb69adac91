package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"vodstream/catalogservice/internal/domain"
)

// FormatSpeed renders throughput as "<n>KB/s" or "<n.n>MB/s" (1024-based).
func FormatSpeed(bytes int64, elapsed time.Duration) string {
	if bytes <= 0 || elapsed <= 0 {
		return domain.LoadSpeedUnknown
	}
	kbps := float64(bytes) / 1024 / elapsed.Seconds()
	if kbps >= 1024 {
		return fmt.Sprintf("%.1fMB/s", kbps/1024)
	}
	return fmt.Sprintf("%.0fKB/s", kbps)
}

// parseResolution reads an HLS RESOLUTION attribute such as "1920x1080".
func parseResolution(raw string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return 0, 0
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil {
		return 0, 0
	}
	return width, height
}

func qualityFromResolution(raw string) domain.ResolutionClass {
	width, height := parseResolution(raw)
	return domain.ResolutionClassFromSize(width, height)
}
