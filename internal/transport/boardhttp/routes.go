// Package boardhttp exposes the non-streaming editor endpoints: image upload, board
// snapshots and the analysis journal.
package boardhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/park285/cheese-board-editor/internal/adapter/boardpresenter"
	"github.com/park285/cheese-board-editor/internal/journal"
	"github.com/park285/cheese-board-editor/internal/render"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/internal/vision"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

type Server struct {
	manager   *board.Manager
	formatter *boardpresenter.Formatter
	renderer  *render.Renderer
	journal   journal.Repository
	logger    *zap.Logger
}

func New(manager *board.Manager, formatter *boardpresenter.Formatter, renderer *render.Renderer, repo journal.Repository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{manager: manager, formatter: formatter, renderer: renderer, journal: repo, logger: logger}
}

// Register mounts the endpoints on mux. The websocket lives at a separate path.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/{id}/image", s.handleUpload)
	mux.HandleFunc("GET /sessions/{id}/board.png", s.handleBoard)
	mux.HandleFunc("GET /sessions/{id}/analyses", s.handleAnalyses)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, vision.MaxImageBytes+1))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := session.Upload(r.Context(), body); err != nil {
		s.logger.Debug("upload failed", zap.String("session", session.ID()), zap.Error(err))
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.formatter.State(session.State()))
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	st := session.State()
	img, err := s.renderer.RenderPNG(r.Context(), boardpresenter.ToScene(st, s.formatter.Status(st)))
	if err != nil {
		s.logger.Warn("render failed", zap.String("session", session.ID()), zap.Error(err))
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

type analysisEntry struct {
	FEN        string `json:"fen"`
	Evaluation string `json:"evaluation"`
	BestMove   string `json:"best_move"`
	Depth      int    `json:"depth"`
	RecordedAt string `json:"recorded_at"`
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	entries, err := s.journal.Recent(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]analysisEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, analysisEntry{
			FEN:        e.FEN,
			Evaluation: e.Evaluation,
			BestMove:   e.BestMove,
			Depth:      e.Depth,
			RecordedAt: e.RecordedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.manager.Count()})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	de := s.formatter.Error(err)
	writeJSON(w, statusFor(de.Code), boarddto.Error{Type: boarddto.FrameError, Error: de})
}

func statusFor(code string) int {
	switch code {
	case boarddto.CodeSessionNotFound:
		return http.StatusNotFound
	case boarddto.CodeNotAnImage, boarddto.CodeInvalidFEN, boarddto.CodeInvalidGesture, boarddto.CodeNoPiece:
		return http.StatusBadRequest
	case boarddto.CodeImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case boarddto.CodeScanInProgress, boarddto.CodeEditRejected, boarddto.CodeIllegalMove:
		return http.StatusConflict
	case boarddto.CodeRecognitionFailed:
		return http.StatusUnprocessableEntity
	case boarddto.CodeSessionLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
