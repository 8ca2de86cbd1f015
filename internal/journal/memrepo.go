package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memrepo is used when no database is configured. Entries live as long as the process.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	bySession map[string][]*Entry // session uuid -> entries, latest last
	byIndex   map[string]*Entry   // session uuid|fen -> entry
	byFEN     map[string]*Entry   // fen -> latest entry
}

func NewMemoryRepository() Repository {
	return &memrepo{
		bySession: make(map[string][]*Entry),
		byIndex:   make(map[string]*Entry),
		byFEN:     make(map[string]*Entry),
	}
}

func (m *memrepo) Insert(_ context.Context, e *Entry) (int64, error) {
	if e == nil {
		return 0, ErrDuplicate
	}
	fen := normalizeFEN(e.FEN)
	key := e.SessionUUID + "|" + fen

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byIndex[key]; exists {
		return 0, ErrDuplicate
	}

	m.nextID++
	copy := *e
	copy.ID = m.nextID
	copy.FEN = fen
	if copy.RecordedAt.IsZero() {
		copy.RecordedAt = time.Now().UTC()
	}

	m.byIndex[key] = &copy
	m.byFEN[fen] = &copy
	m.bySession[e.SessionUUID] = append(m.bySession[e.SessionUUID], &copy)
	return copy.ID, nil
}

func (m *memrepo) Recent(_ context.Context, sessionUUID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.bySession[sessionUUID]
	if len(list) == 0 {
		return []*Entry{}, nil
	}
	items := make([]*Entry, 0, len(list))
	for _, e := range list {
		c := *e
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].RecordedAt.Equal(items[j].RecordedAt) {
			return items[i].RecordedAt.After(items[j].RecordedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) LatestByFEN(_ context.Context, fen string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byFEN[normalizeFEN(fen)]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (m *memrepo) Close() error { return nil }
