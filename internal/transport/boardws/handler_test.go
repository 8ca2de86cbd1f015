package boardws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-board-editor/internal/adapter/boardpresenter"
	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/msgcat"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type anyFrame struct {
	boarddto.State
	Error *boarddto.DomainError `json:"error"`
}

func startServer(t *testing.T, maxSessions int) (*board.Manager, string) {
	t.Helper()
	m := board.NewManager(board.Config{
		Editor:      editor.DefaultConfig(),
		Analysis:    analysis.Config{Debounce: 10 * time.Millisecond},
		MaxSessions: maxSessions,
	}, nil, nil, nil, nil)
	h := NewHandler(m, boardpresenter.NewFormatter(msgcat.MustDefault()), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		m.Shutdown()
	})
	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, cmd boarddto.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, cmd); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, c *websocket.Conn, what string, match func(anyFrame) bool) anyFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f anyFrame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(f) {
			return f
		}
	}
}

func TestConnectionGetsInitialState(t *testing.T) {
	m, url := startServer(t, 4)
	c := dial(t, url)

	f := readUntil(t, c, "state", func(f anyFrame) bool { return f.Type == boarddto.FrameState })
	if f.FEN != "start" || f.Orientation != "white" || f.SideToMove != "w" || f.SessionID == "" {
		t.Fatalf("initial frame = %+v", f.State)
	}
	if !f.Degraded || !strings.Contains(f.Status, "No evaluation available") {
		t.Fatalf("status = %q, degraded = %v", f.Status, f.Degraded)
	}
	if _, err := m.Get(f.SessionID); err != nil {
		t.Fatalf("session not registered: %v", err)
	}
}

func TestCommandsEditBoard(t *testing.T) {
	_, url := startServer(t, 4)
	c := dial(t, url)
	readUntil(t, c, "initial state", func(f anyFrame) bool { return f.Type == boarddto.FrameState })

	send(t, c, boarddto.Command{Type: boarddto.CmdDrop, From: "e2", To: "e4", Piece: "wP"})
	f := readUntil(t, c, "drop", func(f anyFrame) bool { return strings.HasPrefix(f.FEN, "rnbqkbnr/pppppppp/8/8/4P3/") })
	if f.SideToMove != "b" {
		t.Fatalf("side after legal drop = %q", f.SideToMove)
	}

	send(t, c, boarddto.Command{Type: boarddto.CmdFlip})
	readUntil(t, c, "flip", func(f anyFrame) bool { return f.Orientation == "black" })

	send(t, c, boarddto.Command{Type: boarddto.CmdClick, Square: "d1"})
	readUntil(t, c, "selection", func(f anyFrame) bool { return f.Selected == "d1" })

	send(t, c, boarddto.Command{Type: boarddto.CmdReset})
	f = readUntil(t, c, "reset", func(f anyFrame) bool { return f.FEN == "start" })
	if f.Orientation != "white" || f.Selected != "" {
		t.Fatalf("after reset = %+v", f.State)
	}
}

func TestBadCommandsProduceErrorFrames(t *testing.T) {
	_, url := startServer(t, 4)
	c := dial(t, url)
	readUntil(t, c, "initial state", func(f anyFrame) bool { return f.Type == boarddto.FrameState })

	send(t, c, boarddto.Command{Type: boarddto.CmdClick, Square: "z9"})
	f := readUntil(t, c, "gesture error", func(f anyFrame) bool { return f.Type == boarddto.FrameError })
	if f.Error == nil || f.Error.Code != boarddto.CodeInvalidGesture {
		t.Fatalf("error frame = %+v", f.Error)
	}

	send(t, c, boarddto.Command{Type: boarddto.CmdLoadFEN, FEN: "garbage"})
	f = readUntil(t, c, "fen error", func(f anyFrame) bool { return f.Type == boarddto.FrameError })
	if f.Error == nil || f.Error.Code != boarddto.CodeInvalidFEN || f.Error.Message == "" {
		t.Fatalf("error frame = %+v", f.Error)
	}

	send(t, c, boarddto.Command{Type: "teleport"})
	f = readUntil(t, c, "unknown command", func(f anyFrame) bool { return f.Type == boarddto.FrameError })
	if f.Error.Code != boarddto.CodeInvalidGesture {
		t.Fatalf("error frame = %+v", f.Error)
	}
}

func TestSessionLimitRejectsConnection(t *testing.T) {
	_, url := startServer(t, 1)
	first := dial(t, url)
	readUntil(t, first, "first state", func(f anyFrame) bool { return f.Type == boarddto.FrameState })

	second := dial(t, url)
	f := readUntil(t, second, "limit error", func(f anyFrame) bool { return f.Type == boarddto.FrameError })
	if f.Error == nil || f.Error.Code != boarddto.CodeSessionLimit || !f.Error.Retryable {
		t.Fatalf("error frame = %+v", f.Error)
	}
}

func TestDisconnectClosesSession(t *testing.T) {
	m, url := startServer(t, 4)
	c := dial(t, url)
	f := readUntil(t, c, "state", func(f anyFrame) bool { return f.Type == boarddto.FrameState })
	_ = c.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Get(f.SessionID); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s still open after disconnect", f.SessionID)
}
