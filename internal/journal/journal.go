// Package journal records settled engine analyses: one row per analysed position per
// editing session.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrDuplicate = errors.New("analysis already recorded")

type Entry struct {
	ID          int64
	SessionUUID string
	FEN         string
	// Evaluation is the display form, e.g. "0.34" or "M-2".
	Evaluation string
	BestMove   string
	Depth      int
	RecordedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, e *Entry) (int64, error)
	Recent(ctx context.Context, sessionUUID string, limit int) ([]*Entry, error)
	// LatestByFEN returns the most recent entry for fen across all sessions, or nil.
	LatestByFEN(ctx context.Context, fen string) (*Entry, error)
	Close() error
}

func normalizeFEN(fen string) string {
	return strings.Join(strings.Fields(fen), " ")
}
