package goal

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusStopped, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown goal status %q", raw)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusStopped, StatusFailed},
	StatusPaused: {StatusActive, StatusStopped},
}

// CanTransition reports whether from->to is on the forward graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
