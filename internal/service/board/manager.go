package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/chess/uci"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/journal"
	"github.com/park285/cheese-board-editor/internal/vision"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("editing session not found")
	ErrSessionLimit    = errors.New("too many editing sessions")
)

const defaultLeaseTimeout = 5 * time.Second

// EngineSource hands out one engine per session. A nil source means every session runs
// without evaluation.
type EngineSource func(ctx context.Context) (EngineLease, error)

// PoolEngines leases workers with fixed options from a shared UCI pool.
func PoolEngines(pool *uci.Pool, opt uci.Options, logger *zap.Logger) EngineSource {
	return func(ctx context.Context) (EngineLease, error) {
		w, err := uci.Lease(ctx, pool, opt, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

type Config struct {
	Editor       editor.Config
	Analysis     analysis.Config
	MaxSessions  int
	LeaseTimeout time.Duration
}

type Manager struct {
	cfg        Config
	engines    EngineSource
	recognizer vision.Recognizer
	journal    journal.Repository
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(cfg Config, engines EngineSource, recognizer vision.Recognizer, repo journal.Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaultLeaseTimeout
	}
	return &Manager{
		cfg:        cfg,
		engines:    engines,
		recognizer: recognizer,
		journal:    repo,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Create opens a session. Failing to lease an engine is not fatal: the session starts
// with degraded analysis and editing keeps working.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	id := uuid.NewString()
	// reserve the slot while the engine is leased
	m.sessions[id] = nil
	m.mu.Unlock()

	var lease EngineLease
	if m.engines != nil {
		leaseCtx, cancel := context.WithTimeout(ctx, m.cfg.LeaseTimeout)
		l, err := m.engines(leaseCtx)
		cancel()
		if err != nil {
			m.logger.Warn("engine unavailable, analysis degraded", zap.String("session", id), zap.Error(err))
		} else {
			lease = l
		}
	}

	s := newSession(sessionDeps{
		id:         id,
		editorCfg:  m.cfg.Editor,
		analysis:   m.cfg.Analysis,
		engine:     lease,
		recognizer: m.recognizer,
		journal:    m.journal,
		logger:     m.logger,
		onClose:    m.forget,
	})

	m.mu.Lock()
	if m.closed {
		delete(m.sessions, id)
		m.mu.Unlock()
		_ = s.Close()
		return nil, ErrSessionClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()
	m.logger.Info("session opened", zap.String("session", id), zap.Bool("engine", lease != nil))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends one session and returns its engine to the pool.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Close()
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != nil {
		delete(m.sessions, id)
	}
}

// Shutdown closes every session. Create fails afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			open = append(open, s)
		}
	}
	m.mu.Unlock()
	for _, s := range open {
		if err := s.Close(); err != nil {
			m.logger.Warn("session close failed", zap.String("session", s.ID()), zap.Error(err))
		}
	}
}
