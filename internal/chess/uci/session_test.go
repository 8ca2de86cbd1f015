package uci

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeEngine speaks just enough UCI over pipes for session tests.
type fakeEngine struct {
	mu       sync.Mutex
	received []string
}

func (f *fakeEngine) run(in io.Reader, out io.WriteCloser) {
	defer out.Close()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		f.mu.Lock()
		f.received = append(f.received, line)
		f.mu.Unlock()

		var reply string
		switch {
		case line == "uci":
			reply = "id name fakefish\nuciok\n"
		case line == "isready":
			reply = "readyok\n"
		case strings.HasPrefix(line, "go"):
			reply = "info depth 1 score cp 34 pv e2e4 e7e5\n" +
				"info depth 2 multipv 2 score mate -3 pv d2d4\n" +
				"bestmove e2e4 ponder e7e5\n"
		}
		if reply != "" {
			if _, err := io.WriteString(out, reply); err != nil {
				return
			}
		}
	}
}

func (f *fakeEngine) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeEngine) waitFor(t *testing.T, cmd string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range f.commands() {
			if c == cmd {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never received %q; got %v", cmd, f.commands())
}

func dialFake(ctx context.Context, opt Options) (*Session, *fakeEngine, error) {
	eng := &fakeEngine{}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go eng.run(inR, outW)
	s := newSession(inW, outR, nil)
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, eng, nil
}

func newFakeSession(t *testing.T) (*Session, *fakeEngine) {
	t.Helper()
	s, eng, err := dialFake(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, eng
}

func TestInitializeAppliesStrengthOptions(t *testing.T) {
	_, eng := newFakeSession(t)
	got := eng.commands()
	want := []string{
		"uci",
		"setoption name Threads value 1",
		"setoption name Hash value 64",
		"setoption name Skill Level value 20",
		"setoption name MultiPV value 1",
		"setoption name Move Overhead value 100",
		"setoption name UCI_LimitStrength value true",
		"setoption name UCI_Elo value 2200",
		"isready",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("handshake mismatch (-want +got):\n%s", diff)
	}
}

func TestOptionCommandsWithoutStrengthLimit(t *testing.T) {
	opt := DefaultOptions()
	opt.LimitStrength = false
	for _, cmd := range optionCommands(opt) {
		if strings.Contains(cmd, "UCI_Elo") {
			t.Fatalf("elo sent without strength limit: %q", cmd)
		}
	}
}

func TestStreamForwardsLines(t *testing.T) {
	s, eng := newFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	lines, err := s.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := s.Stream(ctx); !errors.Is(err, ErrStreamBusy) {
		t.Fatalf("second stream err = %v", err)
	}
	if err := s.Send("go depth 3"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	eng.waitFor(t, "go depth 3")
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-timeout:
			t.Fatalf("stream stalled after %v", got)
		}
	}
	if got[2] != "bestmove e2e4 ponder e7e5" {
		t.Fatalf("last line = %q", got[2])
	}
	cancel()
	for range lines {
	}
	if _, err := s.Stream(context.Background()); err != nil {
		t.Fatalf("stream not released after cancel: %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	s, _ := newFakeSession(t)
	s.Close()
	if err := s.Send("isready"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildPositionCommand(t *testing.T) {
	cases := map[string]string{
		"":         "position startpos\n",
		"start":    "position startpos\n",
		"startpos": "position startpos\n",
		"8/8/8/8/8/8/8/K6k w - - 0 1": "position fen 8/8/8/8/8/8/8/K6k w - - 0 1\n",
	}
	for in, want := range cases {
		if got := buildPositionCommand(in, nil); got != want {
			t.Fatalf("buildPositionCommand(%q) = %q, want %q", in, got, want)
		}
	}
	if got := buildPositionCommand("start", []string{"e2e4", "e7e5"}); got != "position startpos moves e2e4 e7e5\n" {
		t.Fatalf("with moves = %q", got)
	}
}

func TestBuildGoTokens(t *testing.T) {
	got, err := BuildGoTokens(Limits{Depth: 15})
	if err != nil {
		t.Fatalf("BuildGoTokens: %v", err)
	}
	if diff := cmp.Diff([]string{"go", "depth", "15"}, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if _, err := BuildGoTokens(Limits{}); err == nil {
		t.Fatalf("empty limits accepted")
	}
}

func TestComputeSearchTimeout(t *testing.T) {
	if got := ComputeSearchTimeout(Limits{Depth: 15}); got != 6*time.Second {
		t.Fatalf("depth 15 = %v", got)
	}
	if got := ComputeSearchTimeout(Limits{Depth: 40}); got != 12*time.Second {
		t.Fatalf("depth 40 = %v", got)
	}
	if got := ComputeSearchTimeout(Limits{Depth: 200}); got != 20*time.Second {
		t.Fatalf("depth 200 = %v", got)
	}
	if got := ComputeSearchTimeout(Limits{}); got != 6*time.Second {
		t.Fatalf("no depth = %v", got)
	}
}

func TestValidateOptions(t *testing.T) {
	bad := []Options{
		{SkillLevel: 21, HashMB: 1, MultiPV: 1},
		{SkillLevel: 1, HashMB: 0, MultiPV: 1},
		{SkillLevel: 1, HashMB: 1, MultiPV: 0},
		{SkillLevel: 1, HashMB: 1, MultiPV: 1, Elo: -1},
	}
	for _, opt := range bad {
		if err := validateOptions(opt); err == nil {
			t.Fatalf("validateOptions(%+v) accepted", opt)
		}
	}
	if err := validateOptions(DefaultOptions()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}
