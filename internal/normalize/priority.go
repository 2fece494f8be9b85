package normalize

import "strings"

// textPriority normalizes a free-text priority hint via substring matching.
// Returns "" when the text carries no recognizable signal, so callers can
// distinguish "no hint" from an explicit medium.
func textPriority(s string) string {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "urgent"), strings.Contains(l, "critical"), strings.Contains(l, "asap"):
		return "urgent"
	case strings.Contains(l, "high"), strings.Contains(l, "important"):
		return "high"
	case strings.Contains(l, "low"), strings.Contains(l, "minor"), strings.Contains(l, "trivial"):
		return "low"
	case strings.Contains(l, "medium"), strings.Contains(l, "normal"):
		return "medium"
	}
	return ""
}

// priorityCodes is the fixed numeric table used by platforms that encode
// priority as an integer.
var priorityCodes = map[string]string{
	"1": "urgent",
	"2": "high",
	"3": "medium",
	"4": "low",
}

// codePriority maps a numeric priority code to its normalized name.
// Unrecognized codes fall back to medium.
func codePriority(code string) string {
	if p, ok := priorityCodes[strings.TrimSpace(code)]; ok {
		return p
	}
	return "medium"
}
