// Package memory keeps runs and packs in process memory. It backs the CLI
// and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/repo"
)

type RunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	now  func() time.Time
}

func NewRunStore() *RunStore {
	return &RunStore{runs: map[string]domain.Run{}, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrConflict
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	s.runs[run.ID] = run
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Author != "" && run.Author != filter.Author {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, progress int) error {
	if _, err := domain.ParseRunStatus(string(status)); err != nil {
		return err
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress must be within [0,100], got %d", progress)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !run.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", repo.ErrInvalidTransition, run.Status, status)
	}
	run.Status = status
	run.Progress = progress
	run.UpdatedAt = s.now()
	s.runs[id] = run
	return nil
}

type PackStore struct {
	mu    sync.RWMutex
	packs map[string]domain.AssetPack
}

func NewPackStore(packs ...domain.AssetPack) *PackStore {
	s := &PackStore{packs: map[string]domain.AssetPack{}}
	for _, p := range packs {
		s.packs[p.ID] = p
	}
	return s
}

func (s *PackStore) CreatePack(ctx context.Context, pack domain.AssetPack) error {
	if err := pack.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packs[pack.ID]; ok {
		return repo.ErrConflict
	}
	if strings.TrimSpace(pack.Name) == "" {
		pack.Name = pack.ID
	}
	pack.Tags = slices.Clone(pack.Tags)
	s.packs[pack.ID] = pack
	return nil
}

func (s *PackStore) GetPack(ctx context.Context, id string) (domain.AssetPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pack, ok := s.packs[id]
	if !ok {
		return domain.AssetPack{}, repo.ErrNotFound
	}
	pack.Tags = slices.Clone(pack.Tags)
	return pack, nil
}

func (s *PackStore) ListPacks(ctx context.Context, filter repo.PackFilter) ([]domain.AssetPack, error) {
	s.mu.RLock()
	out := make([]domain.AssetPack, 0, len(s.packs))
	for _, pack := range s.packs {
		if filter.Tag != "" && !slices.Contains(pack.Tags, filter.Tag) {
			continue
		}
		pack.Tags = slices.Clone(pack.Tags)
		out = append(out, pack)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *PackStore) PackExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.packs[id]
	return ok, nil
}
