// Package postgres keeps comparison records in the comparison_record table.
// The table is created by the embedded migrations and rejects updates and
// deletes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/llmsql/llmsql/internal/record"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ record.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping records db: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, r record.Record) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Seq = 0
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
INSERT INTO comparison_record (record_id, trial_id, created_at, final_stage, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
RETURNING seq`
	var seq int64
	if err := s.db.QueryRowContext(ctx, query, r.ID, r.TrialID, r.CreatedAt.UTC(), string(r.FinalStage()), string(payload)).Scan(&seq); err != nil {
		return "", fmt.Errorf("%w: insert record: %v", record.ErrPersistence, err)
	}
	return r.ID, nil
}

func (s *Store) List(ctx context.Context, filter record.Filter) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		query, args := listQuery(filter)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("%w: list records: %v", record.ErrPersistence, err))
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(record.Record{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(record.Record{}, fmt.Errorf("%w: iterate records: %v", record.ErrPersistence, err))
		}
	}
}

func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT seq, payload
FROM comparison_record
WHERE record_id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, fmt.Errorf("%w: %s", record.ErrNotFound, id)
		}
		return record.Record{}, err
	}
	return r, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.Record, error) {
	var (
		seq     int64
		payload []byte
	)
	if err := row.Scan(&seq, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("scan record row: %w", err)
	}
	var r record.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return record.Record{}, fmt.Errorf("decode record %d: %w", seq, err)
	}
	r.Seq = seq
	return r, nil
}

func listQuery(filter record.Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	next := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Model != "" {
		conditions = append(conditions, "payload->'request'->'models' @> to_jsonb("+next(string(filter.Model))+"::text)")
	}
	if filter.Database != "" {
		conditions = append(conditions, "payload->'request'->'databases' @> to_jsonb("+next(string(filter.Database))+"::text)")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+next(filter.Since.UTC()))
	}

	var b strings.Builder
	b.WriteString("\nSELECT seq, payload\nFROM comparison_record")
	if len(conditions) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString("\nORDER BY seq ASC")
	if filter.Limit > 0 {
		b.WriteString("\nLIMIT " + next(filter.Limit))
	}
	return b.String(), args
}
