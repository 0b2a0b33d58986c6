package main

import (
	"context"
	"fmt"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/platform/auditlog"
)

const workerActor = "compositor"

// auditRecorder appends run transitions to the audit log.
type auditRecorder struct {
	insert func(ctx context.Context, event auditlog.Event) error
	now    func() time.Time
}

func newAuditRecorder(db auditlog.QueryRower) *auditRecorder {
	return &auditRecorder{
		insert: func(ctx context.Context, event auditlog.Event) error {
			_, err := auditlog.Insert(ctx, db, event)
			return err
		},
		now: time.Now,
	}
}

func (r *auditRecorder) RecordTransition(ctx context.Context, runID string, status domain.RunStatus, details map[string]any) error {
	action, err := actionFor(status)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancel()
	return r.insert(ctx, auditlog.Event{
		OccurredAt: r.now().UTC(),
		RunID:      runID,
		Action:     action,
		Actor:      workerActor,
		Payload:    details,
	})
}

func actionFor(status domain.RunStatus) (string, error) {
	switch status {
	case domain.RunPending:
		return auditlog.ActionSubmitted, nil
	case domain.RunRunning:
		return auditlog.ActionStarted, nil
	case domain.RunSucceeded:
		return auditlog.ActionSucceeded, nil
	case domain.RunFailed:
		return auditlog.ActionFailed, nil
	default:
		return "", fmt.Errorf("no audit action for status %q", status)
	}
}
