package analysis

import (
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-board-editor/internal/chess/uci"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 100 * time.Millisecond
	defaultDepth    = 15
	defaultWatchdog = 20 * time.Second
)

// Engine is a raw UCI command sink plus its output lines. Lines is closed when the
// engine goes away.
type Engine interface {
	Send(cmd string) error
	Lines() <-chan string
}

type Config struct {
	Debounce time.Duration
	Depth    int
	// Watchdog bounds how long a request may stay unanswered before analysis degrades.
	Watchdog time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.Depth <= 0 {
		c.Depth = defaultDepth
	}
	if c.Watchdog <= 0 {
		c.Watchdog = uci.ComputeSearchTimeout(uci.Limits{Depth: c.Depth})
		if c.Watchdog < defaultWatchdog {
			c.Watchdog = defaultWatchdog
		}
	}
	return c
}

// Feedback is what the board view shows next to the board.
type Feedback struct {
	FEN        string
	Evaluation Evaluation
	Depth      int
	BestMove   string
	Arrows     []Arrow
	Analyzing  bool
	// Degraded means no evaluation is available: no engine, or the engine failed.
	Degraded bool
	// Settled is set on the update that closes the live request.
	Settled bool
	Seq     uint64
}

type FeedbackCallback func(Feedback)

type subscriber struct {
	id int
	cb FeedbackCallback
}

// Trigger debounces position changes into engine requests. Every request gets a sequence
// number; engine output is attributed to requests in send order and only the live one
// may touch the feedback.
type Trigger struct {
	engine Engine
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	timer    *time.Timer
	watchdog *time.Timer
	pending  string
	gen      uint64
	seq      uint64
	inflight []request
	fb       Feedback
	rev      uint64
	lost     bool
	closed   bool

	emitMu  sync.Mutex
	emitted uint64

	subM   sync.RWMutex
	subs   []subscriber
	nextID int
}

type request struct {
	seq uint64
	fen string
}

func NewTrigger(engine Engine, cfg Config, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trigger{
		engine: engine,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
	if engine == nil {
		t.lost = true
		t.fb.Degraded = true
		return t
	}
	go t.readLoop(engine.Lines())
	return t
}

func (t *Trigger) Subscribe(cb FeedbackCallback) int {
	t.subM.Lock()
	defer t.subM.Unlock()
	t.nextID++
	t.subs = append(t.subs, subscriber{id: t.nextID, cb: cb})
	return t.nextID
}

func (t *Trigger) Unsubscribe(id int) {
	t.subM.Lock()
	defer t.subM.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

func (t *Trigger) Feedback() Feedback {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Trigger) snapshotLocked() Feedback {
	fb := t.fb
	fb.Arrows = append([]Arrow(nil), t.fb.Arrows...)
	return fb
}

// publishLocked bumps the feedback revision and returns what to emit once unlocked.
func (t *Trigger) publishLocked() (Feedback, uint64) {
	t.rev++
	return t.snapshotLocked(), t.rev
}

func (t *Trigger) emit(fb Feedback, rev uint64) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	if rev <= t.emitted {
		return
	}
	t.emitted = rev

	t.subM.RLock()
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.subM.RUnlock()
	for _, s := range subs {
		if s.cb != nil {
			s.cb(fb)
		}
	}
}

// Notify schedules analysis of fen. A call before the debounce window elapses replaces
// the pending FEN and restarts the window.
func (t *Trigger) Notify(fen string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.fb.Settled = false
	if t.lost {
		t.fb.FEN = fen
		t.fb.Analyzing = false
		t.fb.Degraded = true
		fb, rev := t.publishLocked()
		t.mu.Unlock()
		t.emit(fb, rev)
		return
	}
	t.pending = fen
	t.fb.Analyzing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.cfg.Debounce, func() { t.fire(gen) })
	fb, rev := t.publishLocked()
	t.mu.Unlock()
	t.emit(fb, rev)
}

func (t *Trigger) fire(gen uint64) {
	t.mu.Lock()
	if t.closed || t.lost || t.pending == "" || gen != t.gen {
		t.mu.Unlock()
		return
	}
	fen := t.pending
	t.pending = ""
	t.timer = nil

	if len(t.inflight) > 0 {
		// the superseded search still answers with bestmove, which is then discarded
		if err := t.engine.Send("stop"); err != nil {
			t.degradeLocked("stop failed", err)
			fb, rev := t.publishLocked()
			t.mu.Unlock()
			t.emit(fb, rev)
			return
		}
	}

	goTokens, err := uci.BuildGoTokens(uci.Limits{Depth: t.cfg.Depth})
	if err != nil {
		t.degradeLocked("bad search limits", err)
		fb, rev := t.publishLocked()
		t.mu.Unlock()
		t.emit(fb, rev)
		return
	}
	t.seq++
	seq := t.seq
	cmds := []string{
		strings.TrimSpace(uci.PositionCommand(fen, nil)),
		strings.Join(goTokens, " "),
	}
	for _, cmd := range cmds {
		if err := t.engine.Send(cmd); err != nil {
			t.degradeLocked("send failed", err)
			fb, rev := t.publishLocked()
			t.mu.Unlock()
			t.emit(fb, rev)
			return
		}
	}
	t.inflight = append(t.inflight, request{seq: seq, fen: fen})
	t.fb.Seq = seq
	t.fb.FEN = fen
	t.fb.Analyzing = true
	t.fb.Degraded = false
	t.armWatchdogLocked(seq)
	t.logger.Debug("analysis requested", zap.Uint64("seq", seq), zap.String("fen", fen), zap.Int("depth", t.cfg.Depth))
	fb, rev := t.publishLocked()
	t.mu.Unlock()
	t.emit(fb, rev)
}

func (t *Trigger) armWatchdogLocked(seq uint64) {
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
	t.watchdog = time.AfterFunc(t.cfg.Watchdog, func() {
		t.mu.Lock()
		if t.closed || t.seq != seq || len(t.inflight) == 0 || !t.fb.Analyzing {
			t.mu.Unlock()
			return
		}
		t.logger.Warn("engine did not answer in time", zap.Uint64("seq", seq), zap.Duration("watchdog", t.cfg.Watchdog))
		t.fb.Analyzing = false
		t.fb.Degraded = true
		fb, rev := t.publishLocked()
		t.mu.Unlock()
		t.emit(fb, rev)
	})
}

func (t *Trigger) degradeLocked(msg string, err error) {
	t.logger.Warn("analysis degraded: "+msg, zap.Error(err))
	t.fb.Analyzing = false
	t.fb.Degraded = true
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
}

func (t *Trigger) readLoop(lines <-chan string) {
	for line := range lines {
		t.handleLine(line)
	}
	t.mu.Lock()
	t.lost = true
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.inflight = nil
	t.pending = ""
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.degradeLocked("engine output closed", nil)
	fb, rev := t.publishLocked()
	t.mu.Unlock()
	t.emit(fb, rev)
}

func (t *Trigger) handleLine(line string) {
	ev := ParseLine(line)
	if ev.Kind == EventNone {
		return
	}
	t.mu.Lock()
	if t.closed || len(t.inflight) == 0 {
		t.mu.Unlock()
		return
	}
	owner := t.inflight[0]
	if ev.Kind == EventBestMove || ev.Kind == EventNoMove {
		t.inflight = t.inflight[1:]
	}
	if owner.seq != t.seq {
		t.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventEval:
		t.fb.Evaluation = ev.Eval
		if ev.Depth > 0 {
			t.fb.Depth = ev.Depth
		}
	case EventBestMove:
		t.fb.BestMove = ev.BestMove
		t.fb.Arrows = []Arrow{*ev.Arrow}
		t.settleLocked()
	case EventNoMove:
		t.settleLocked()
	}
	fb, rev := t.publishLocked()
	t.fb.Settled = false
	t.mu.Unlock()
	t.emit(fb, rev)
}

func (t *Trigger) settleLocked() {
	if t.pending == "" {
		t.fb.Analyzing = false
	}
	t.fb.Degraded = false
	t.fb.Settled = true
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
}

// Reset clears evaluation, best move and arrows. A pending request is kept.
func (t *Trigger) Reset() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.fb.Evaluation = Evaluation{}
	t.fb.Depth = 0
	t.fb.BestMove = ""
	t.fb.Arrows = nil
	t.fb.Settled = false
	fb, rev := t.publishLocked()
	t.mu.Unlock()
	t.emit(fb, rev)
}

// Close cancels the debounce timer and the watchdog. Output arriving afterwards is ignored.
// The engine itself belongs to the caller.
func (t *Trigger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.pending = ""
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
}
