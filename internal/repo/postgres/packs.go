package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/repo"
)

const (
	insertPackQuery = `INSERT INTO asset_packs (pack_id, name, description, tags)
		VALUES ($1,$2,$3,$4)`
	selectPackByIDQuery = `SELECT pack_id, name, description, tags
		FROM asset_packs
		WHERE pack_id = $1`
	selectPacksQuery = `SELECT pack_id, name, description, tags
		FROM asset_packs`
	packExistsQuery = `SELECT EXISTS (SELECT 1 FROM asset_packs WHERE pack_id = $1)`
)

// PackStore is the asset pack registry. Tags are stored comma separated.
type PackStore struct {
	db DB
}

func NewPackStore(db DB) *PackStore {
	if db == nil {
		return nil
	}
	return &PackStore{db: db}
}

func (s *PackStore) CreatePack(ctx context.Context, pack domain.AssetPack) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pack store not initialized")
	}
	if err := pack.Validate(); err != nil {
		return err
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		name = pack.ID
	}
	_, err := s.db.ExecContext(ctx, insertPackQuery, pack.ID, name, strings.TrimSpace(pack.Description), joinTags(pack.Tags))
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert pack: %w", err)
	}
	return nil
}

func (s *PackStore) GetPack(ctx context.Context, id string) (domain.AssetPack, error) {
	if s == nil || s.db == nil {
		return domain.AssetPack{}, fmt.Errorf("pack store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.AssetPack{}, fmt.Errorf("pack id is required")
	}
	pack, err := scanPack(s.db.QueryRowContext(ctx, selectPackByIDQuery, id))
	if err != nil {
		return domain.AssetPack{}, handleNotFound(err)
	}
	return pack, nil
}

func (s *PackStore) ListPacks(ctx context.Context, filter repo.PackFilter) ([]domain.AssetPack, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pack store not initialized")
	}
	query, args := buildListPacksQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()

	packs := make([]domain.AssetPack, 0)
	for rows.Next() {
		pack, err := scanPack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		packs = append(packs, pack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	return packs, nil
}

func buildListPacksQuery(filter repo.PackFilter) (string, []any) {
	query := selectPacksQuery
	args := make([]any, 0, 2)
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		args = append(args, tag)
		query += fmt.Sprintf(" WHERE ',' || tags || ',' LIKE '%%,' || $%d || ',%%'", len(args))
	}
	query += " ORDER BY pack_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *PackStore) PackExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("pack store not initialized")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, packExistsQuery, strings.TrimSpace(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("pack exists: %w", err)
	}
	return exists, nil
}

func scanPack(row rowScanner) (domain.AssetPack, error) {
	var pack domain.AssetPack
	var tags string
	if err := row.Scan(&pack.ID, &pack.Name, &pack.Description, &tags); err != nil {
		return domain.AssetPack{}, err
	}
	pack.Tags = splitTags(tags)
	return pack, nil
}

func joinTags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, ",", " "))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return strings.Join(out, ",")
}

func splitTags(raw string) []string {
	out := make([]string, 0)
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
