// Package auditlog appends run lifecycle events to the run_events table.
// Each row carries a SHA-256 over its canonical JSON form so later edits are
// detectable.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	ActionSubmitted = "run.submitted"
	ActionStarted   = "run.started"
	ActionSucceeded = "run.succeeded"
	ActionFailed    = "run.failed"
)

type Event struct {
	OccurredAt time.Time
	RunID      string
	Action     string
	Actor      string
	RequestID  string
	IP         net.IP
	UserAgent  string
	Payload    any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	return nil
}

const insertEventQuery = `INSERT INTO run_events (
		occurred_at,
		run_id,
		action,
		actor,
		request_id,
		ip,
		user_agent,
		payload,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	RETURNING event_id`

// Insert stores event and returns its id. A zero OccurredAt means now.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return 0, err
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.RunID),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.Actor),
		nullString(event.RequestID),
		nullString(ipString(event.IP)),
		nullString(event.UserAgent),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run event: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		RunID      string          `json:"run_id"`
		Action     string          `json:"action"`
		Actor      string          `json:"actor"`
		RequestID  string          `json:"request_id,omitempty"`
		IP         string          `json:"ip,omitempty"`
		UserAgent  string          `json:"user_agent,omitempty"`
		Payload    json.RawMessage `json:"payload"`
	}
	if len(payloadJSON) == 0 {
		payloadJSON = []byte("{}")
	}
	blob, err := json.Marshal(integrityInput{
		OccurredAt: event.OccurredAt.UTC(),
		RunID:      strings.TrimSpace(event.RunID),
		Action:     strings.TrimSpace(event.Action),
		Actor:      strings.TrimSpace(event.Actor),
		RequestID:  strings.TrimSpace(event.RequestID),
		IP:         ipString(event.IP),
		UserAgent:  strings.TrimSpace(event.UserAgent),
		Payload:    payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return out, nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
