// Package boardws serves the board editor over a websocket: JSON commands in, state and
// error frames out.
package boardws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/cheese-board-editor/internal/adapter/boardpresenter"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
	errorBacklog        = 16
)

type Handler struct {
	manager      *board.Manager
	formatter    *boardpresenter.Formatter
	logger       *zap.Logger
	pingInterval time.Duration
	accept       *websocket.AcceptOptions
}

type Option func(*Handler)

func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.accept.OriginPatterns = patterns }
}

func NewHandler(manager *board.Manager, formatter *boardpresenter.Formatter, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		manager:      manager,
		formatter:    formatter,
		logger:       logger,
		pingInterval: defaultPingInterval,
		accept:       &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP opens a fresh editing session for the connection and closes it when the
// client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.manager.Create(ctx)
	if err != nil {
		h.logger.Warn("session create failed", zap.Error(err))
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		_ = wsjson.Write(wctx, ws, boarddto.Error{Type: boarddto.FrameError, Error: h.formatter.Error(err)})
		wcancel()
		_ = ws.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}

	c := &conn{
		ws:        ws,
		session:   session,
		formatter: h.formatter,
		logger:    h.logger.With(zap.String("session", session.ID())),
		dirty:     make(chan struct{}, 1),
		errs:      make(chan boarddto.DomainError, errorBacklog),
	}
	subID := session.Subscribe(func(board.State) { c.markDirty() })
	c.markDirty()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pingLoop(ctx, h.pingInterval)
	}()

	status, reason := c.readLoop(ctx)
	cancel()
	session.Unsubscribe(subID)
	wg.Wait()
	if err := h.manager.Close(session.ID()); err != nil && !errors.Is(err, board.ErrSessionNotFound) {
		c.logger.Warn("session close failed", zap.Error(err))
	}
	_ = ws.Close(status, reason)
}

type conn struct {
	ws        *websocket.Conn
	session   *board.Session
	formatter *boardpresenter.Formatter
	logger    *zap.Logger

	// dirty coalesces state changes; the writer always sends the newest state.
	dirty chan struct{}
	errs  chan boarddto.DomainError
}

func (c *conn) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *conn) readLoop(ctx context.Context) (websocket.StatusCode, string) {
	for {
		var cmd boarddto.Command
		if err := wsjson.Read(ctx, c.ws, &cmd); err != nil {
			if s := websocket.CloseStatus(err); s != -1 {
				c.logger.Debug("client closed", zap.Int("status", int(s)))
				return websocket.StatusNormalClosure, ""
			}
			if ctx.Err() != nil {
				return websocket.StatusGoingAway, "shutting down"
			}
			c.logger.Debug("read failed", zap.Error(err))
			return websocket.StatusUnsupportedData, "bad frame"
		}
		if err := Dispatch(c.session, cmd); err != nil {
			c.logger.Debug("command failed", zap.String("type", cmd.Type), zap.Error(err))
			select {
			case c.errs <- c.formatter.Error(err):
			default:
				c.logger.Warn("error backlog full, dropping", zap.Error(err))
			}
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		var frame any
		select {
		case <-ctx.Done():
			return
		case de := <-c.errs:
			frame = boarddto.Error{Type: boarddto.FrameError, Error: de}
		case <-c.dirty:
			frame = c.formatter.State(c.session.State())
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c.ws, frame)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("write failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *conn) pingLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.logger.Info("ping failed twice, dropping connection", zap.Error(err))
				_ = c.ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
