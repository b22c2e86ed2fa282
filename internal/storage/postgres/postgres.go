// Package postgres implements engine.Store against PostgreSQL. CAS is
// expressed as a single UPDATE/DELETE whose RowsAffected() determines
// success vs. conflict, so no explicit transaction is needed for
// single-record atomicity.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
)

// Store is a PostgreSQL-backed engine.Store.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ engine.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection is live.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *Store) Insert(ctx context.Context, rec engine.Record) error {
	configsJSON, err := json.Marshal(rec.Configs)
	if err != nil {
		return fmt.Errorf("marshal configs: %w", err)
	}
	const q = `INSERT INTO engines (id, name, engine_type, version, configs, state, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.db.ExecContext(ctx, q, rec.ID, rec.Name, string(rec.EngineType), rec.Version, configsJSON, string(rec.State), rec.CreateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.ConflictState("duplicate id")
		}
		return apierr.StoreUnavailable(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (engine.Record, error) {
	const q = `SELECT id, name, engine_type, version, configs, state, create_time, claimed_at
		FROM engines WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Record{}, apierr.NotFound(id)
	}
	if err != nil {
		return engine.Record{}, apierr.StoreUnavailable(err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	const q = `SELECT id FROM engines`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.StoreUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	return ids, nil
}

func (s *Store) CASState(ctx context.Context, id string, expected, next engine.State) error {
	var claimedAt any
	if next.Class() == engine.ClassInFlight {
		claimedAt = time.Now().UTC()
	} else {
		claimedAt = nil
	}
	const q = `UPDATE engines SET state = $1, claimed_at = $2 WHERE id = $3 AND state = $4`
	res, err := s.db.ExecContext(ctx, q, string(next), claimedAt, id, string(expected))
	if err != nil {
		return apierr.StoreUnavailable(err)
	}
	return s.requireAffectedOrConflict(ctx, res, id)
}

func (s *Store) DeleteIfState(ctx context.Context, id string, expectedSet []engine.State) error {
	tags := make([]string, len(expectedSet))
	for i, st := range expectedSet {
		tags[i] = string(st)
	}
	const q = `DELETE FROM engines WHERE id = $1 AND state = ANY($2)`
	res, err := s.db.ExecContext(ctx, q, id, pq.Array(tags))
	if err != nil {
		return apierr.StoreUnavailable(err)
	}
	return s.requireAffectedOrConflict(ctx, res, id)
}

func (s *Store) ScanByStates(ctx context.Context, states []engine.State) ([]engine.Record, error) {
	tags := make([]string, len(states))
	for i, st := range states {
		tags[i] = string(st)
	}
	const q = `SELECT id, name, engine_type, version, configs, state, create_time, claimed_at
		FROM engines WHERE state = ANY($1)`
	rows, err := s.db.QueryContext(ctx, q, pq.Array(tags))
	if err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	defer rows.Close()
	var out []engine.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apierr.StoreUnavailable(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	return out, nil
}

// requireAffectedOrConflict distinguishes a CAS that matched no row because
// the id does not exist from one that matched no row because state had
// already moved on, so the caller can tell NotFound from
// ConflictState(observed).
func (s *Store) requireAffectedOrConflict(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.StoreUnavailable(err)
	}
	if n > 0 {
		return nil
	}
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return apierr.ConflictState(string(current.State))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (engine.Record, error) {
	var (
		rec         engine.Record
		engineType  string
		state       string
		configsJSON []byte
		claimedAt   sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Name, &engineType, &rec.Version, &configsJSON, &state, &rec.CreateTime, &claimedAt); err != nil {
		return engine.Record{}, err
	}
	rec.EngineType = engine.Type(engineType)
	rec.State = engine.State(state)
	if claimedAt.Valid {
		rec.ClaimedAt = claimedAt.Time
	}
	if len(configsJSON) > 0 {
		if err := json.Unmarshal(configsJSON, &rec.Configs); err != nil {
			return engine.Record{}, fmt.Errorf("unmarshal configs: %w", err)
		}
	}
	return rec, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
