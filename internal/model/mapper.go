package model

import "strings"

// passthroughPrefixes are case-sensitive: a Claude model name starting with one
// of these is already a backend-native name and bypasses family mapping.
var passthroughPrefixes = []string{"gpt-", "o1-", "ep-", "doubao-", "deepseek-"}

// ModelTargets is the set of configured backend model names for each Claude
// model family (spec §6 Models section).
type ModelTargets struct {
	Big    string
	Middle string
	Small  string
}

// MapModel maps a Claude model name to a configured backend model name
// (C2, spec §4.1).
func MapModel(name string, targets ModelTargets) string {
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(name, prefix) {
			return name
		}
	}

	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "haiku"):
		return targets.Small
	case strings.Contains(lower, "sonnet"):
		return targets.Middle
	case strings.Contains(lower, "opus"):
		return targets.Big
	default:
		return targets.Big
	}
}
