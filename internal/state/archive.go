package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/database"
)

// snapshotDB pgxpool.Pool 중 아카이브가 쓰는 부분
type snapshotDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresArchive 사이클별 스냅샷을 engine_snapshots 테이블에 보관
type PostgresArchive struct {
	db snapshotDB
}

// NewPostgresArchive creates an archive over the shared pool
func NewPostgresArchive(db *database.DB) *PostgresArchive {
	return &PostgresArchive{db: db.Pool}
}

// Save implements contracts.Persister
func (a *PostgresArchive) Save(ctx context.Context, st contracts.EngineState) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", contracts.ErrPersistence, err)
	}

	query := `
		INSERT INTO engine_snapshots (taken_at, cycle_count, document)
		VALUES ($1, $2, $3)
	`
	if _, err := a.db.Exec(ctx, query, st.Timestamp, st.CycleCount, doc); err != nil {
		return fmt.Errorf("%w: archive snapshot: %v", contracts.ErrPersistence, err)
	}
	return nil
}

// Latest returns the most recent archived snapshot (found=false when empty)
func (a *PostgresArchive) Latest(ctx context.Context) (contracts.EngineState, bool, error) {
	query := `
		SELECT document
		FROM engine_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`
	var doc []byte
	if err := a.db.QueryRow(ctx, query).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.EngineState{}, false, nil
		}
		return contracts.EngineState{}, false, fmt.Errorf("query latest snapshot: %w", err)
	}

	var st contracts.EngineState
	if err := json.Unmarshal(doc, &st); err != nil {
		return contracts.EngineState{}, false, fmt.Errorf("decode archived snapshot: %w", err)
	}
	return st, true, nil
}
