package bmc

import (
	"regexp"
	"strconv"
	"strings"
)

var degreesPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*degrees?\s*C`)

// ParseCPUTemperature extracts the CPU temperature from SDR-style sensor
// text, e.g.:
//
//	CPU Temp     | 04h | ok  |  7.1 | 50 degrees C
//
// It prefers a line mentioning both CPU and TEMP; failing that it falls back
// to the maximum over every "<number> degrees C" occurrence in the whole
// output. ok is false when nothing parses; callers must skip fan and
// critical-temperature logic for the cycle rather than assume zero.
func ParseCPUTemperature(output string) (temperature float64, ok bool) {
	if output == "" {
		return 0, false
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.Contains(upper, "CPU") || !strings.Contains(upper, "TEMP") {
			continue
		}

		if match := degreesPattern.FindStringSubmatch(line); match != nil {
			if value, err := strconv.ParseFloat(match[1], 64); err == nil {
				return value, true
			}
		}
	}

	var max float64
	found := false
	for _, match := range degreesPattern.FindAllStringSubmatch(output, -1) {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		if !found || value > max {
			max = value
			found = true
		}
	}

	return max, found
}

// HasStatusErrors scans pipe-delimited SDR records and reports whether any
// status column carries something other than "ok". Format:
//
//	12V | 30h | ok | 7.18 | 12.24 Volts
func HasStatusErrors(output string) bool {
	if output == "" {
		return false
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}

		status := strings.ToLower(strings.TrimSpace(parts[2]))
		if status != "ok" {
			return true
		}
	}

	return false
}

var intrusionKeywords = []string{"intrusion", "chassis open", "ns", "nc", "cr"}

// HasIntrusion reports whether the chassis intrusion output indicates an
// open or tampered chassis.
func HasIntrusion(output string) bool {
	if output == "" {
		return false
	}

	lower := strings.ToLower(output)
	for _, keyword := range intrusionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}

	return false
}

var criticalEventKeywords = []string{"critical", "non-recoverable", "nr", "cr", "error"}

// HasCriticalEvents reports whether the system event log text contains
// critical entries.
func HasCriticalEvents(output string) bool {
	if output == "" {
		return false
	}

	lower := strings.ToLower(output)
	for _, keyword := range criticalEventKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}

	return false
}
