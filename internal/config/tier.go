package config

import "strings"

// SpeedLimitTier is a named bandwidth ceiling.
type SpeedLimitTier string

const (
	TierUnlimited SpeedLimitTier = "unlimited"
	Tier1MBps     SpeedLimitTier = "1mbps"
	Tier3MBps     SpeedLimitTier = "3mbps"
	Tier5MBps     SpeedLimitTier = "5mbps"
)

const mib = 1024 * 1024

var tierCeilings = map[SpeedLimitTier]int64{
	TierUnlimited: 0,
	Tier1MBps:     1 * mib,
	Tier3MBps:     3 * mib,
	Tier5MBps:     5 * mib,
}

// Tiers lists the known tiers in ascending ceiling order (unlimited first).
func Tiers() []SpeedLimitTier {
	return []SpeedLimitTier{TierUnlimited, Tier1MBps, Tier3MBps, Tier5MBps}
}

// ParseTier maps a configured name to a tier. Unknown or empty names yield
// TierUnlimited and ok=false.
func ParseTier(s string) (SpeedLimitTier, bool) {
	t := SpeedLimitTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierCeilings[t]; ok {
		return t, true
	}
	return TierUnlimited, false
}

// BytesPerSecond returns the ceiling; 0 means no ceiling.
func (t SpeedLimitTier) BytesPerSecond() int64 { return tierCeilings[t] }

func (t SpeedLimitTier) String() string { return string(t) }
