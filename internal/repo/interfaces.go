package repo

import (
	"context"
	"errors"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrInvalidTransition is returned when a status update would move a run
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

type RunFilter struct {
	Status domain.RunStatus
	Author string
	Limit  int
}

type PackFilter struct {
	Tag   string
	Limit int
}

// RunRepository manages run records. Only the orchestrator owning a run
// updates its status.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, progress int) error
}

// PackRepository is the registry of asset packs.
type PackRepository interface {
	CreatePack(ctx context.Context, pack domain.AssetPack) error
	GetPack(ctx context.Context, id string) (domain.AssetPack, error)
	ListPacks(ctx context.Context, filter PackFilter) ([]domain.AssetPack, error)
	PackExists(ctx context.Context, id string) (bool, error)
}
