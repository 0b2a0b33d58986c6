package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/repo"
)

const (
	insertRunQuery = `INSERT INTO template_runs (run_id, status, progress, author, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	selectRunByIDQuery = `SELECT run_id, status, progress, author, created_at, updated_at
		FROM template_runs
		WHERE run_id = $1`
	selectRunsQuery = `SELECT run_id, status, progress, author, created_at, updated_at
		FROM template_runs`
	// The status predicate makes the transition check and the write one
	// statement.
	updateRunStatusQuery = `UPDATE template_runs
		SET status = $1, progress = $2, updated_at = $3
		WHERE run_id = $4 AND status = ANY($5)`
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		string(run.Status),
		run.Progress,
		nullIfEmpty(run.Author),
		createdAt,
		updatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunByIDQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args := buildListRunsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func buildListRunsQuery(filter repo.RunFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if author := strings.TrimSpace(filter.Author); author != "" {
		args = append(args, author)
		clauses = append(clauses, fmt.Sprintf("author = $%d", len(args)))
	}
	query := selectRunsQuery
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, progress int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if _, err := domain.ParseRunStatus(string(status)); err != nil {
		return err
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress must be within [0,100], got %d", progress)
	}
	res, err := s.db.ExecContext(
		ctx,
		updateRunStatusQuery,
		string(status),
		progress,
		time.Now().UTC(),
		id,
		predecessors(status),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if rows > 0 {
		return nil
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", repo.ErrInvalidTransition, current.Status, status)
}

// predecessors lists the statuses a run may be in before moving to next.
func predecessors(next domain.RunStatus) []string {
	out := make([]string, 0, 2)
	for _, from := range []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunSucceeded, domain.RunFailed} {
		if from.CanTransition(next) {
			out = append(out, string(from))
		}
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var status string
	var author sql.NullString
	if err := row.Scan(&run.ID, &status, &run.Progress, &author, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return domain.Run{}, err
	}
	parsed, err := domain.ParseRunStatus(status)
	if err != nil {
		return domain.Run{}, errors.Join(fmt.Errorf("run %s", run.ID), err)
	}
	run.Status = parsed
	if author.Valid {
		run.Author = author.String
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}
