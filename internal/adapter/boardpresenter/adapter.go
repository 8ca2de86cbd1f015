package boardpresenter

import (
	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/position"
	"github.com/park285/cheese-board-editor/internal/render"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
)

func ToDTOState(st board.State, status string) *boarddto.State {
	fb := st.Feedback
	return &boarddto.State{
		Type:          boarddto.FrameState,
		SessionID:     st.ID,
		FEN:           st.Editor.FEN,
		Orientation:   string(st.Editor.Orientation),
		SideToMove:    string(st.Editor.SideToMove),
		Selected:      st.Editor.SelectedSquare,
		SelectedSpare: string(st.Editor.SelectedSpare),
		Revision:      st.Editor.Revision,
		LastAction:    st.Editor.LastAction,
		Evaluation:    fb.Evaluation.String(),
		BestMove:      fb.BestMove,
		Depth:         fb.Depth,
		Arrows:        toDTOArrows(fb.Arrows),
		Analyzing:     fb.Analyzing,
		Degraded:      fb.Degraded,
		Scanning:      st.Scanning,
		Status:        status,
	}
}

func toDTOArrows(list []analysis.Arrow) []boarddto.Arrow {
	out := make([]boarddto.Arrow, 0, len(list))
	for _, a := range list {
		out = append(out, boarddto.Arrow{From: a.From, To: a.To})
	}
	return out
}

// ToScene converts a session state into a render frame. Arrows that do not name two
// board squares are dropped.
func ToScene(st board.State, caption string) render.Scene {
	scene := render.Scene{
		Position: st.Editor.Position,
		Flipped:  st.Editor.Orientation == editor.OrientationBlack,
		Caption:  caption,
	}
	if sq, err := position.ParseSquare(st.Editor.SelectedSquare); err == nil {
		scene.Selected = &sq
	}
	for _, a := range st.Feedback.Arrows {
		from, errFrom := position.ParseSquare(a.From)
		to, errTo := position.ParseSquare(a.To)
		if errFrom != nil || errTo != nil {
			continue
		}
		scene.Arrows = append(scene.Arrows, render.Arrow{From: from, To: to})
	}
	return scene
}
