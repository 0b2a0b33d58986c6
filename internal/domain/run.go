package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(strings.ToLower(strings.TrimSpace(s))) {
	case RunPending:
		return RunPending, nil
	case RunRunning:
		return RunRunning, nil
	case RunSucceeded:
		return RunSucceeded, nil
	case RunFailed:
		return RunFailed, nil
	default:
		return "", fmt.Errorf("invalid run status %q", s)
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// CanTransition reports whether a run may move from s to next.
// Repeating a non-terminal status is allowed so progress can be updated.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunRunning || next == RunSucceeded || next == RunFailed
	default:
		return false
	}
}

// Run is one execution of a submitted template.
type Run struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    RunStatus
	Progress  int
	Author    string
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if _, err := ParseRunStatus(string(r.Status)); err != nil {
		return err
	}
	if r.Progress < 0 || r.Progress > 100 {
		return fmt.Errorf("progress must be within [0,100], got %d", r.Progress)
	}
	return nil
}
