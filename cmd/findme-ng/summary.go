package main

import (
	"fmt"
	"strings"

	"findme-ng/internal/tracker"
)

// summarize renders a controller snapshot as one key=value log line.
func summarize(s tracker.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s reports=%d report_failures=%d gnss_failures=%d gnss_restarts=%d",
		s.State, s.Reports, s.ReportFailures, s.GNSSFailures, s.GNSSRestarts)
	if s.Baseline.Valid {
		fmt.Fprintf(&b, " baseline=%.6f,%.6f reported_at=%s",
			s.Baseline.Lat, s.Baseline.Lon, s.Baseline.ReportedAt.UTC().Format("2006-01-02T15:04:05Z"))
	} else {
		b.WriteString(" baseline=none")
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, " last_error=%q", s.LastError)
	}
	return b.String()
}
