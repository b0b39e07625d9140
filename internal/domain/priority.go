package domain

import (
	"fmt"
	"strings"
)

// Priority is the user-facing file priority vocabulary.
type Priority string

const (
	PrioritySkip   Priority = "Skip"
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
)

// ParsePriority accepts any casing of the four priority names.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return PrioritySkip, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}
