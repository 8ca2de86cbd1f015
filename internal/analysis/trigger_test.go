package analysis

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeEngine struct {
	mu     sync.Mutex
	sent   []string
	failOn string
	lines  chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{lines: make(chan string, 64)}
}

func (f *fakeEngine) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.HasPrefix(cmd, f.failOn) {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeEngine) Lines() <-chan string { return f.lines }

func (f *fakeEngine) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type recorder struct {
	mu  sync.Mutex
	all []Feedback
}

func (r *recorder) record(fb Feedback) {
	r.mu.Lock()
	r.all = append(r.all, fb)
	r.mu.Unlock()
}

func (r *recorder) seen(pred func(Feedback) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fb := range r.all {
		if pred(fb) {
			return true
		}
	}
	return false
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestTrigger(t *testing.T, eng Engine, cfg Config) (*Trigger, *recorder) {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	tr := NewTrigger(eng, cfg, nil)
	rec := &recorder{}
	tr.Subscribe(rec.record)
	t.Cleanup(tr.Close)
	return tr, rec
}

func TestDebounceSendsOnlyLatestFEN(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{Debounce: 40 * time.Millisecond})

	tr.Notify("8/8/8/8/8/8/8/K6k w - - 0 1")
	tr.Notify("8/8/8/8/8/8/8/K5k1 w - - 0 1")
	tr.Notify("start")
	if !tr.Feedback().Analyzing {
		t.Fatalf("Notify did not enter analyzing")
	}

	waitUntil(t, "request", func() bool { return len(eng.commands()) >= 2 })
	time.Sleep(80 * time.Millisecond)
	want := []string{"position startpos", "go depth 15"}
	if diff := cmp.Diff(want, eng.commands()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestFENRequestUsesConfiguredDepth(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{Depth: 8})
	const fen = "r1bqkbnr/pppp1ppp/2n5/1B2p3/4P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3"
	tr.Notify(fen)
	waitUntil(t, "request", func() bool { return len(eng.commands()) >= 2 })
	want := []string{"position fen " + fen, "go depth 8"}
	if diff := cmp.Diff(want, eng.commands()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestLiveOutputUpdatesFeedback(t *testing.T) {
	eng := newFakeEngine()
	tr, rec := newTestTrigger(t, eng, Config{})
	tr.Notify("start")
	waitUntil(t, "request", func() bool { return len(eng.commands()) >= 2 })

	eng.lines <- "info depth 12 seldepth 18 score cp 34 nodes 50000 pv e2e4 e7e5"
	eng.lines <- "bestmove e2e4 ponder e7e5"
	waitUntil(t, "bestmove", func() bool { return tr.Feedback().BestMove != "" })

	fb := tr.Feedback()
	if fb.Evaluation.String() != "0.34" || fb.Depth != 12 {
		t.Fatalf("evaluation = %q depth %d", fb.Evaluation, fb.Depth)
	}
	if fb.Analyzing || fb.Degraded {
		t.Fatalf("flags after bestmove: %+v", fb)
	}
	if diff := cmp.Diff([]Arrow{{From: "e2", To: "e4"}}, fb.Arrows); diff != "" {
		t.Fatalf("arrows mismatch (-want +got):\n%s", diff)
	}
	if !rec.seen(func(f Feedback) bool { return f.Settled && f.BestMove == "e2e4" && f.Seq == 1 }) {
		t.Fatalf("no settled update emitted")
	}
}

func TestSupersededOutputIsDiscarded(t *testing.T) {
	eng := newFakeEngine()
	tr, rec := newTestTrigger(t, eng, Config{})

	tr.Notify("8/8/8/8/8/8/8/K6k w - - 0 1")
	waitUntil(t, "first request", func() bool { return len(eng.commands()) >= 2 })
	tr.Notify("start")
	waitUntil(t, "second request", func() bool { return len(eng.commands()) >= 5 })
	if got := eng.commands()[2]; got != "stop" {
		t.Fatalf("expected stop before new request, got %q", got)
	}

	eng.lines <- "info depth 5 score cp 50 pv a1a2"
	eng.lines <- "bestmove a1a2"
	eng.lines <- "info depth 8 score cp -20 pv d2d4"
	eng.lines <- "bestmove d2d4"
	waitUntil(t, "live bestmove", func() bool { return tr.Feedback().BestMove == "d2d4" })

	if rec.seen(func(f Feedback) bool { return f.BestMove == "a1a2" || f.Evaluation.Centipawns == 50 }) {
		t.Fatalf("stale output reached observers")
	}
	fb := tr.Feedback()
	if fb.Seq != 2 || fb.Evaluation.String() != "-0.20" || fb.Analyzing {
		t.Fatalf("feedback = %+v", fb)
	}
}

func TestBestMoveNoneKeepsPreviousMove(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{})
	tr.Notify("start")
	waitUntil(t, "request", func() bool { return len(eng.commands()) >= 2 })
	eng.lines <- "bestmove e2e4"
	waitUntil(t, "bestmove", func() bool { return !tr.Feedback().Analyzing })

	tr.Notify("7k/6Q1/6K1/8/8/8/8/8 b - - 0 1")
	waitUntil(t, "second request", func() bool { return tr.Feedback().Seq == 2 })
	eng.lines <- "info depth 0 score mate 0"
	eng.lines <- "bestmove (none)"
	waitUntil(t, "terminal", func() bool { return !tr.Feedback().Analyzing })

	fb := tr.Feedback()
	if fb.BestMove != "e2e4" || len(fb.Arrows) != 1 {
		t.Fatalf("terminal position dropped previous best move: %+v", fb)
	}
	if fb.Evaluation.String() != "M0" {
		t.Fatalf("evaluation = %q", fb.Evaluation)
	}
}

func TestNilEngineIsDegraded(t *testing.T) {
	tr, rec := newTestTrigger(t, nil, Config{})
	tr.Notify("start")
	fb := tr.Feedback()
	if fb.Analyzing || !fb.Degraded {
		t.Fatalf("feedback = %+v", fb)
	}
	if !rec.seen(func(f Feedback) bool { return f.Degraded }) {
		t.Fatalf("degraded state not published")
	}
}

func TestSendFailureDegrades(t *testing.T) {
	eng := newFakeEngine()
	eng.failOn = "position"
	tr, _ := newTestTrigger(t, eng, Config{})
	tr.Notify("start")
	waitUntil(t, "degraded", func() bool { return tr.Feedback().Degraded })
	if tr.Feedback().Analyzing {
		t.Fatalf("still analyzing after send failure")
	}
}

func TestClosedOutputDegrades(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{})
	close(eng.lines)
	waitUntil(t, "degraded", func() bool { return tr.Feedback().Degraded })

	tr.Notify("start")
	time.Sleep(50 * time.Millisecond)
	if len(eng.commands()) != 0 {
		t.Fatalf("commands sent to a dead engine: %v", eng.commands())
	}
	if tr.Feedback().Analyzing {
		t.Fatalf("analyzing on a dead engine")
	}
}

func TestWatchdogDegrades(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{Watchdog: 60 * time.Millisecond})
	tr.Notify("start")
	waitUntil(t, "watchdog", func() bool { return tr.Feedback().Degraded })
	if tr.Feedback().Analyzing {
		t.Fatalf("analyzing after watchdog")
	}

	// a late answer for the live request still lands
	eng.lines <- "bestmove e2e4"
	waitUntil(t, "late bestmove", func() bool { return tr.Feedback().BestMove == "e2e4" })
	if tr.Feedback().Degraded {
		t.Fatalf("degraded flag kept after answer")
	}
}

func TestResetClearsFeedback(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{})
	tr.Notify("start")
	waitUntil(t, "request", func() bool { return len(eng.commands()) >= 2 })
	eng.lines <- "info depth 3 score cp 20 pv e2e4"
	eng.lines <- "bestmove e2e4"
	waitUntil(t, "bestmove", func() bool { return tr.Feedback().BestMove != "" })

	tr.Reset()
	fb := tr.Feedback()
	if fb.BestMove != "" || len(fb.Arrows) != 0 || fb.Evaluation.Kind != EvalUnknown {
		t.Fatalf("feedback after reset = %+v", fb)
	}
}

func TestCloseCancelsPendingRequest(t *testing.T) {
	eng := newFakeEngine()
	tr, _ := newTestTrigger(t, eng, Config{Debounce: 30 * time.Millisecond})
	tr.Notify("start")
	tr.Close()
	time.Sleep(80 * time.Millisecond)
	if len(eng.commands()) != 0 {
		t.Fatalf("request sent after Close: %v", eng.commands())
	}
	tr.Notify("start")
	if len(eng.commands()) != 0 {
		t.Fatalf("Notify after Close scheduled work")
	}
}
