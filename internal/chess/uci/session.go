package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	lineBuffer          = 256
)

var (
	ErrSessionClosed = errors.New("engine session closed")
	ErrStreamBusy    = errors.New("engine line stream already attached")
)

type Options struct {
	Threads       int
	SkillLevel    int
	HashMB        int
	MultiPV       int
	Elo           int
	LimitStrength bool
}

// DefaultOptions mirrors the strength settings the board editor has always used.
func DefaultOptions() Options {
	return Options{
		Threads:       1,
		SkillLevel:    20,
		HashMB:        64,
		MultiPV:       1,
		Elo:           2200,
		LimitStrength: true,
	}
}

// Limits bounds one search. Analysis runs to a fixed depth.
type Limits struct {
	Depth int
}

type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	streamMu sync.Mutex
	stream   bool
}

func NewSession(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := newSession(stdin, stdoutPipe, logger)
	s.cmd = cmd

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newSession wires a session over raw pipes. The reader goroutine owns stdout for the
// lifetime of the session and closes lines on EOF.
func newSession(stdin io.WriteCloser, stdout io.Reader, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		stdin:  stdin,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop(bufio.NewReader(stdout))
	return s
}

func (s *Session) readLoop(r *bufio.Reader) {
	defer close(s.lines)
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			select {
			case s.lines <- trimmed:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("engine stdout read failed", zap.Error(err))
			}
			return
		}
	}
}

// Send writes one raw command line. A trailing newline is added when missing.
func (s *Session) Send(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	return s.send(cmd)
}

// Stop asks the engine to end the running search. It still answers with bestmove.
func (s *Session) Stop() error {
	return s.send("stop\n")
}

// Stream forwards engine output until ctx ends or the engine exits; the returned channel
// is closed in both cases. Only one stream may be attached at a time.
func (s *Session) Stream(ctx context.Context) (<-chan string, error) {
	s.streamMu.Lock()
	if s.stream {
		s.streamMu.Unlock()
		return nil, ErrStreamBusy
	}
	s.stream = true
	s.streamMu.Unlock()

	out := make(chan string, lineBuffer)
	go func() {
		defer func() {
			s.streamMu.Lock()
			s.stream = false
			s.streamMu.Unlock()
			close(out)
		}()
		for {
			line, err := s.readLine(ctx)
			if err != nil {
				return
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PositionCommand renders a position command line. The "start" sentinel and an empty FEN
// both map to startpos.
func PositionCommand(fen string, moves []string) string {
	return buildPositionCommand(fen, moves)
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	trimmed := strings.TrimSpace(fen)
	if trimmed == "" || trimmed == "startpos" || trimmed == "start" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(trimmed)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	if opt.Elo < 0 {
		return fmt.Errorf("elo must be >= 0: %d", opt.Elo)
	}
	return nil
}

// BuildGoTokens renders the limits as a go command, e.g. "go depth 15".
func BuildGoTokens(l Limits) ([]string, error) {
	return buildGoTokens(l)
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth <= 0 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return append(args, "depth", strconv.Itoa(l.Depth)), nil
}

// ComputeSearchTimeout bounds how long a search with these limits may take.
func ComputeSearchTimeout(l Limits) time.Duration {
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.stdin != nil {
		s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}

	if s.cmd != nil {
		return s.cmd.Wait()
	}
	return nil
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}

	return nil
}

func optionCommands(opt Options) []string {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threadCount),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
		"setoption name Move Overhead value 100\n",
		fmt.Sprintf("setoption name UCI_LimitStrength value %t\n", opt.LimitStrength),
	}
	if opt.LimitStrength && opt.Elo > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name UCI_Elo value %d\n", opt.Elo))
	}
	return cmds
}

func (s *Session) applyOptions(opt Options) error {
	for _, cmd := range optionCommands(opt) {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
