package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const lineTimeFormat = "2006-01-02 15:04:05"

// FormatLine renders one zerolog JSON line as a single human-readable line:
//
//	[2006-01-02 15:04:05] INFO message key=value ...
//
// Keys are sorted so the output is stable. Non-JSON input is returned trimmed.
func FormatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	if raw == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, 2000)
	}

	ts, _ := m["time"].(string)
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if ts != "" {
		if t, err := time.Parse(consoleTimeFormat, ts); err == nil {
			ts = t.Format(lineTimeFormat)
		}
		b.WriteString("[")
		b.WriteString(ts)
		b.WriteString("] ")
	}
	if lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString(" ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "caller", "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(Flatten(fmt.Sprint(m[k])), 300))
	}
	return truncate(b.String(), 2000)
}

// Flatten joins a multi-line message into one line using " | ".
func Flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", " | ")
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
