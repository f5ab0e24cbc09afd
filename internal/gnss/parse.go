package gnss

import (
	"math"
	"strconv"
	"strings"

	"findme-ng/internal/modem"
)

type Fix struct {
	Lat   float64
	Lon   float64
	Valid bool
}

// ParseFixLine extracts a fix from an info response. Anything short of a
// complete, non-zero coordinate pair yields an invalid Fix.
func ParseFixLine(d Dialect, text string) Fix {
	line, ok := modem.LineAfter(text, d.Prefix)
	if !ok || line == "" {
		return Fix{}
	}
	f := modem.Fields(line)
	if len(f) < d.MinFields {
		return Fix{}
	}
	if d.FixField >= 0 && f[d.FixField] != "1" {
		return Fix{}
	}

	lat, ok := coordinate(f, d.LatField, d.LatHemiField, "N", "S")
	if !ok {
		return Fix{}
	}
	lon, ok := coordinate(f, d.LonField, d.LonHemiField, "E", "W")
	if !ok {
		return Fix{}
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Fix{}
	}
	return Fix{Lat: lat, Lon: lon, Valid: true}
}

func coordinate(f []string, idx, hemiIdx int, pos, neg string) (float64, bool) {
	raw := f[idx]
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v == 0 || math.IsNaN(v) {
		return 0, false
	}
	if hemiIdx < 0 {
		return v, true
	}
	switch strings.ToUpper(f[hemiIdx]) {
	case pos:
		return math.Abs(v), true
	case neg:
		return -math.Abs(v), true
	default:
		return 0, false
	}
}
