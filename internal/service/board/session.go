// Package board composes one editing session: the edit controller, the analysis trigger
// fed by a leased engine, and the guarded vision hand-off.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/journal"
	"github.com/park285/cheese-board-editor/internal/position"
	"github.com/park285/cheese-board-editor/internal/vision"
	"go.uber.org/zap"
)

var (
	ErrScanInProgress    = errors.New("a board scan is already in progress")
	ErrRecognitionFailed = errors.New("board recognition failed")
	ErrScanSuperseded    = errors.New("board scan superseded")
	ErrVisionUnavailable = errors.New("board recognition not configured")
	ErrSessionClosed     = errors.New("editing session closed")
)

const journalTimeout = 3 * time.Second

// EngineLease is an analysis engine that must be handed back when the session ends.
type EngineLease interface {
	analysis.Engine
	Close() error
}

// State is everything a board view needs to redraw.
type State struct {
	ID       string
	Editor   editor.Snapshot
	Feedback analysis.Feedback
	Scanning bool
}

type StateCallback func(State)

type subscriber struct {
	id int
	cb StateCallback
}

type Session struct {
	id         string
	editor     *editor.Controller
	trigger    *analysis.Trigger
	engine     EngineLease
	recognizer vision.Recognizer
	journal    journal.Repository
	logger     *zap.Logger
	onClose    func(id string)

	ctx    context.Context
	cancel context.CancelFunc

	// applyMu orders scan results against resets.
	applyMu   sync.Mutex
	mu        sync.Mutex
	scanning  bool
	scanToken uint64
	closed    bool

	// editMu orders editor changes into the trigger; lastChange drops late arrivals.
	editMu     sync.Mutex
	lastChange uint64

	publishMu sync.Mutex
	subM      sync.RWMutex
	subs      []subscriber
	nextID    int
}

type sessionDeps struct {
	id         string
	editorCfg  editor.Config
	analysis   analysis.Config
	engine     EngineLease
	recognizer vision.Recognizer
	journal    journal.Repository
	logger     *zap.Logger
	onClose    func(id string)
}

func newSession(d sessionDeps) *Session {
	logger := d.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", d.id))
	ctx, cancel := context.WithCancel(context.Background())

	var eng analysis.Engine
	if d.engine != nil {
		eng = d.engine
	}
	s := &Session{
		id:         d.id,
		editor:     editor.New(d.editorCfg, logger.Named("editor")),
		trigger:    analysis.NewTrigger(eng, d.analysis, logger.Named("analysis")),
		engine:     d.engine,
		recognizer: d.recognizer,
		journal:    d.journal,
		logger:     logger,
		onClose:    d.onClose,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.editor.OnChange(s.onEdit)
	s.trigger.Subscribe(s.onFeedback)
	s.trigger.Notify(s.editor.FEN())
	return s
}

func (s *Session) ID() string { return s.id }

// Editor exposes the gesture surface. Reset must go through Session.Reset so that an
// in-flight scan cannot land on the fresh board.
func (s *Session) Editor() *editor.Controller { return s.editor }

func (s *Session) State() State {
	s.mu.Lock()
	scanning := s.scanning
	s.mu.Unlock()
	return State{
		ID:       s.id,
		Editor:   s.editor.Snapshot(),
		Feedback: s.trigger.Feedback(),
		Scanning: scanning,
	}
}

func (s *Session) Subscribe(cb StateCallback) int {
	s.subM.Lock()
	defer s.subM.Unlock()
	s.nextID++
	s.subs = append(s.subs, subscriber{id: s.nextID, cb: cb})
	return s.nextID
}

func (s *Session) Unsubscribe(id int) {
	s.subM.Lock()
	defer s.subM.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// publish hands the current state to subscribers. The state is read under publishMu so
// the last delivery always carries the newest values.
func (s *Session) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.isClosed() {
		return
	}
	st := s.State()
	s.subM.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subM.RUnlock()
	for _, sub := range subs {
		if sub.cb != nil {
			sub.cb(st)
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) onEdit(ch editor.Change) {
	s.editMu.Lock()
	if ch.Seq > s.lastChange {
		s.lastChange = ch.Seq
		switch ch.Kind {
		case editor.ChangeReset, editor.ChangeClear, editor.ChangeLoad:
			s.trigger.Reset()
		}
		if ch.FENChanged || ch.Kind == editor.ChangeReset {
			s.trigger.Notify(ch.Snapshot.FEN)
		}
	} else {
		s.logger.Debug("stale editor change dropped", zap.Uint64("seq", ch.Seq), zap.Uint64("last", s.lastChange))
	}
	s.editMu.Unlock()
	s.publish()
}

func (s *Session) onFeedback(fb analysis.Feedback) {
	if fb.Settled && s.journal != nil && fb.BestMove != "" {
		go s.record(fb)
	}
	s.publish()
}

func (s *Session) record(fb analysis.Feedback) {
	fen := fb.FEN
	if fen == position.StartSentinel {
		fen = position.StartFEN
	}
	ctx, cancel := context.WithTimeout(s.ctx, journalTimeout)
	defer cancel()
	if prev, err := s.journal.LatestByFEN(ctx, fen); err != nil {
		s.logger.Warn("journal lookup failed", zap.Error(err))
	} else if prev != nil && prev.SessionUUID == s.id {
		// positions revisited within a session keep their first analysis
		return
	}
	_, err := s.journal.Insert(ctx, &journal.Entry{
		SessionUUID: s.id,
		FEN:         fen,
		Evaluation:  fb.Evaluation.String(),
		BestMove:    fb.BestMove,
		Depth:       fb.Depth,
	})
	switch {
	case err == nil:
	case errors.Is(err, journal.ErrDuplicate):
		s.logger.Debug("analysis already journaled", zap.String("fen", fb.FEN))
	default:
		s.logger.Warn("journal insert failed", zap.Error(err))
	}
}

// Reset restores the initial board and invalidates any scan still in flight.
func (s *Session) Reset() (editor.Outcome, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	s.scanToken++
	s.scanning = false
	s.mu.Unlock()
	return s.editor.Reset()
}

// Upload runs the image through the recognizer and, on success, replaces the position.
// Only one scan may be outstanding; a failed or null result leaves the board untouched.
func (s *Session) Upload(ctx context.Context, image []byte) (editor.Outcome, error) {
	if s.recognizer == nil {
		return editor.Outcome{FEN: s.editor.FEN()}, ErrVisionUnavailable
	}
	if _, err := vision.ValidateImage(image); err != nil {
		return editor.Outcome{FEN: s.editor.FEN()}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return editor.Outcome{}, ErrSessionClosed
	}
	if s.scanning {
		s.mu.Unlock()
		return editor.Outcome{FEN: s.editor.FEN()}, ErrScanInProgress
	}
	s.scanning = true
	s.scanToken++
	token := s.scanToken
	s.mu.Unlock()
	s.publish()

	defer func() {
		s.mu.Lock()
		if s.scanToken == token {
			s.scanning = false
		}
		s.mu.Unlock()
		s.publish()
	}()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	fen, ok, err := s.recognizer.Recognize(scanCtx, image)
	if err != nil {
		s.logger.Warn("board recognition failed", zap.Error(err))
		return editor.Outcome{FEN: s.editor.FEN()}, fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	if !ok {
		s.logger.Info("no board detected in upload")
		return editor.Outcome{FEN: s.editor.FEN()}, ErrRecognitionFailed
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	current := !s.closed && s.scanToken == token
	s.mu.Unlock()
	if !current {
		s.logger.Debug("discarding stale scan result", zap.Uint64("token", token))
		return editor.Outcome{FEN: s.editor.FEN()}, ErrScanSuperseded
	}
	out, err := s.editor.LoadFEN(fen)
	if err != nil {
		s.logger.Warn("recognized FEN rejected", zap.String("fen", fen), zap.Error(err))
		return out, fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	return out, nil
}

// Close tears down the trigger and returns the engine. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.scanToken++
	s.scanning = false
	s.mu.Unlock()

	s.cancel()
	s.trigger.Close()
	var err error
	if s.engine != nil {
		err = s.engine.Close()
	}
	if s.onClose != nil {
		s.onClose(s.id)
	}
	s.logger.Debug("session closed")
	return err
}
