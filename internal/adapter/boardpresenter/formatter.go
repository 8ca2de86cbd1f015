package boardpresenter

import (
	"errors"
	"strings"

	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/msgcat"
	"github.com/park285/cheese-board-editor/internal/position"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/internal/vision"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
)

const statusSeparator = " | "

// Formatter turns session state and errors into catalog text.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

// Status is the one-line summary under the board: activity, side to move, evaluation
// and best move when known.
func (f *Formatter) Status(st board.State) string {
	fb := st.Feedback
	parts := []string{f.cat.Text(activityKey(st), nil)}
	parts = append(parts, f.cat.Text("status.side_to_move", map[string]any{"Side": string(st.Editor.SideToMove)}))
	if fb.Evaluation.Kind != analysis.EvalUnknown {
		parts = append(parts, f.cat.Text("status.evaluation", map[string]any{"Eval": fb.Evaluation.String()}))
	}
	if fb.BestMove != "" {
		parts = append(parts, f.cat.Text("status.best_move", map[string]any{"Move": fb.BestMove}))
	}
	return strings.Join(parts, statusSeparator)
}

func activityKey(st board.State) string {
	switch {
	case st.Scanning:
		return "status.scanning"
	case st.Feedback.Degraded:
		return "status.degraded"
	case st.Feedback.Analyzing:
		return "status.analyzing"
	default:
		return "status.ready"
	}
}

func (f *Formatter) State(st board.State) *boarddto.State {
	return ToDTOState(st, f.Status(st))
}

// Error classifies err into a wire error with a catalog message.
func (f *Formatter) Error(err error) boarddto.DomainError {
	code, data, retryable := classify(err)
	return boarddto.DomainError{
		Code:      code,
		Message:   f.cat.Text("errors."+code, data),
		Retryable: retryable,
	}
}

func classify(err error) (string, map[string]any, bool) {
	switch {
	case errors.Is(err, position.ErrInvalidFEN):
		return boarddto.CodeInvalidFEN, nil, false
	case errors.Is(err, editor.ErrNoPieceOnSource):
		return boarddto.CodeNoPiece, map[string]any{"Square": detail(err, editor.ErrNoPieceOnSource)}, false
	case errors.Is(err, editor.ErrIllegalMove):
		return boarddto.CodeIllegalMove, map[string]any{"Move": detail(err, editor.ErrIllegalMove)}, false
	case errors.Is(err, editor.ErrEditRejected):
		return boarddto.CodeEditRejected, map[string]any{"Detail": detail(err, editor.ErrEditRejected)}, false
	case errors.Is(err, editor.ErrInvalidGesture),
		errors.Is(err, position.ErrInvalidSquare),
		errors.Is(err, position.ErrInvalidPiece):
		return boarddto.CodeInvalidGesture, nil, false
	case errors.Is(err, board.ErrScanInProgress):
		return boarddto.CodeScanInProgress, nil, true
	case errors.Is(err, vision.ErrNotAnImage):
		return boarddto.CodeNotAnImage, nil, false
	case errors.Is(err, vision.ErrImageTooLarge):
		return boarddto.CodeImageTooLarge, nil, false
	case errors.Is(err, board.ErrRecognitionFailed),
		errors.Is(err, board.ErrScanSuperseded),
		errors.Is(err, board.ErrVisionUnavailable):
		return boarddto.CodeRecognitionFailed, nil, true
	case errors.Is(err, board.ErrSessionNotFound), errors.Is(err, board.ErrSessionClosed):
		return boarddto.CodeSessionNotFound, nil, false
	case errors.Is(err, board.ErrSessionLimit):
		return boarddto.CodeSessionLimit, nil, true
	default:
		return boarddto.CodeInternal, nil, true
	}
}

// detail is the text after the sentinel, e.g. "e2" from "no piece on source square: e2".
func detail(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		return msg[i+len(sentinel.Error())+2:]
	}
	return msg
}
