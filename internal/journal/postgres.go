package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS board_analyses (
		id           BIGSERIAL PRIMARY KEY,
		session_uuid TEXT        NOT NULL,
		fen          TEXT        NOT NULL,
		evaluation   TEXT        NOT NULL,
		best_move    TEXT        NOT NULL,
		depth        INTEGER     NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (session_uuid, fen)
	)`

type postgresRepository struct {
	db *sql.DB
}

// OpenPostgres connects, pings and makes sure the table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return NewPostgresRepository(db), nil
}

func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, e *Entry) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil analysis entry")
	}
	recorded := e.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}

	const query = `
		INSERT INTO board_analyses (
			session_uuid,
			fen,
			evaluation,
			best_move,
			depth,
			recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_uuid, fen) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err := r.db.QueryRowContext(
		ctx,
		query,
		e.SessionUUID,
		normalizeFEN(e.FEN),
		e.Evaluation,
		e.BestMove,
		e.Depth,
		recorded,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicate
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	return id.Int64, nil
}

func (r *postgresRepository) Recent(ctx context.Context, sessionUUID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, session_uuid, fen, evaluation, best_move, depth, recorded_at
		FROM board_analyses
		WHERE session_uuid = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, sessionUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("select analyses: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return entries, nil
}

func (r *postgresRepository) LatestByFEN(ctx context.Context, fen string) (*Entry, error) {
	const query = `
		SELECT id, session_uuid, fen, evaluation, best_move, depth, recorded_at
		FROM board_analyses
		WHERE fen = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, normalizeFEN(fen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *postgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	if err := row.Scan(
		&e.ID,
		&e.SessionUUID,
		&e.FEN,
		&e.Evaluation,
		&e.BestMove,
		&e.Depth,
		&e.RecordedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	return &e, nil
}
