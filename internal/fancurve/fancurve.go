// Package fancurve maps an observed temperature onto a configured fan curve.
// It is pure: callers own the I/O on both sides.
package fancurve

import "sort"

// FullSpeedRPM is the configured-rpm sentinel meaning "run the fans at full
// speed". It is passed through unchanged to the vendor command mapping.
const FullSpeedRPM = 0

// Zone is one step of a fan curve: at or below TempThreshold the fans run at
// TargetRPM.
type Zone struct {
	TempThreshold float64 `json:"temp_threshold"`
	TargetRPM     int     `json:"target_rpm"`
}

func sortedZones(zones []Zone) []Zone {
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TempThreshold < sorted[j].TempThreshold
	})

	return sorted
}

// ComputeTarget selects the target RPM for the given temperature. Zones are
// sorted ascending by threshold; the first zone covers everything at or below
// its threshold, each later zone the half-open interval down to its
// predecessor, and temperatures above the highest threshold use the highest
// zone. ok is false when no zones are configured, meaning no fan action
// should be taken.
func ComputeTarget(zones []Zone, temperature float64) (rpm int, ok bool) {
	if len(zones) == 0 {
		return 0, false
	}

	sorted := sortedZones(zones)

	if temperature <= sorted[0].TempThreshold {
		return sorted[0].TargetRPM, true
	}

	for i := 1; i < len(sorted); i++ {
		if temperature > sorted[i-1].TempThreshold && temperature <= sorted[i].TempThreshold {
			return sorted[i].TargetRPM, true
		}
	}

	return sorted[len(sorted)-1].TargetRPM, true
}

// SecondZoneThreshold returns the second-lowest zone threshold, the boundary
// up to which per-fan overrides apply. ok is false when fewer than two zones
// are configured.
func SecondZoneThreshold(zones []Zone) (threshold float64, ok bool) {
	if len(zones) < 2 {
		return 0, false
	}

	sorted := sortedZones(zones)

	return sorted[1].TempThreshold, true
}
