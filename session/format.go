package session

import (
	"math"
	"strconv"
)

// FormatSize renders a byte count as B, KB, MB or GB with one decimal.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	const k = 1024.0
	sizes := []string{"B", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	v := float64(bytes) / math.Pow(k, float64(i))
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64) + " " + sizes[i]
}

// Truncate shortens s to max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
