package runner

import (
	"fmt"
	"strings"
	"time"

	"bwkeeper/internal/fetcher"
)

// SkipMessage is notified when a run finds no usable link.
const SkipMessage = "task skipped: no valid download links configured"

// FormatReport renders the five-line human summary of one run.
//
//	[OK]
//	URL: https://example.com/big.iso...
//	Traffic: 12.34 MB
//	Duration: 5.0s
//	Limit: 3MBPS
func FormatReport(url string, speedLimit string, res fetcher.Result) string {
	status := "[OK]"
	if res.StatusCode != 200 {
		status = fmt.Sprintf("[FAILED(%d)]", res.StatusCode)
	}
	traffic := "0 B"
	if res.Bytes > 0 {
		traffic = fmt.Sprintf("%.2f MB", float64(res.Bytes)/(1024*1024))
	}
	limit := strings.ToUpper(speedLimit)
	if strings.TrimSpace(limit) == "" {
		limit = "UNLIMITED"
	}

	var b strings.Builder
	b.WriteString(status)
	b.WriteString("\nURL: ")
	b.WriteString(head(url, 60))
	b.WriteString("...\nTraffic: ")
	b.WriteString(traffic)
	fmt.Fprintf(&b, "\nDuration: %.1fs", res.Duration.Seconds())
	b.WriteString("\nLimit: ")
	b.WriteString(limit)
	return b.String()
}

// head returns the first n runes of s.
func head(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// Outcome is what one run produced. It is published on the bus as the data
// of a run.finished or run.skipped event.
type Outcome struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	URL        string        `json:"url,omitempty"`
	SpeedLimit string        `json:"speed_limit,omitempty"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	StatusCode int           `json:"status_code"`
	Error      string        `json:"error,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Report     string        `json:"report"`
}

func (o Outcome) OK() bool { return !o.Skipped && o.StatusCode == 200 }
