package boardws

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/position"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
)

// Dispatch applies one client command to the session.
func Dispatch(s *board.Session, cmd boarddto.Command) error {
	ed := s.Editor()
	var err error
	switch strings.TrimSpace(cmd.Type) {
	case boarddto.CmdClick:
		err = withSquare(cmd.Square, func(sq position.Square) error {
			_, err := ed.ClickSquare(sq)
			return err
		})
	case boarddto.CmdRightClick:
		err = withSquare(cmd.Square, func(sq position.Square) error {
			_, err := ed.RightClickSquare(sq)
			return err
		})
	case boarddto.CmdDrop:
		err = withSquare(cmd.From, func(from position.Square) error {
			return withSquare(cmd.To, func(to position.Square) error {
				_, err := ed.Drop(from, to, position.PieceCode(cmd.Piece))
				return err
			})
		})
	case boarddto.CmdDragBegin:
		// spare drags start off the board
		sq := position.NoSquare
		if cmd.Square != "" {
			if parsed, perr := position.ParseSquare(cmd.Square); perr == nil {
				sq = parsed
			}
		}
		ed.DragBegin(position.PieceCode(cmd.Piece), sq)
	case boarddto.CmdSpare:
		_, err = ed.SelectSpare(position.PieceCode(cmd.Piece))
	case boarddto.CmdRemoveSelected:
		_, err = ed.RemoveSelected()
	case boarddto.CmdDeselect:
		_, err = ed.Deselect()
	case boarddto.CmdToggleSide:
		_, err = ed.ToggleSideToMove()
	case boarddto.CmdSetSide:
		side, perr := position.ParseSide(cmd.Side)
		if perr != nil {
			return fmt.Errorf("%w: %v", editor.ErrInvalidGesture, perr)
		}
		_, err = ed.SetSideToMove(side)
	case boarddto.CmdFlip:
		_, err = ed.FlipOrientation()
	case boarddto.CmdReset:
		_, err = s.Reset()
	case boarddto.CmdClear:
		_, err = ed.Clear()
	case boarddto.CmdLoadFEN:
		_, err = ed.LoadFEN(cmd.FEN)
	default:
		err = fmt.Errorf("%w: unknown command %q", editor.ErrInvalidGesture, cmd.Type)
	}
	return err
}

func withSquare(raw string, fn func(position.Square) error) error {
	sq, err := position.ParseSquare(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", editor.ErrInvalidGesture, err)
	}
	return fn(sq)
}
