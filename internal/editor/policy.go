package editor

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-board-editor/internal/position"
)

var (
	ErrNoPieceOnSource = errors.New("no piece on source square")
	ErrEditRejected    = errors.New("edit rejected by position model")
	ErrInvalidGesture  = errors.New("invalid gesture")
	ErrIllegalMove     = errors.New("illegal move")
)

// Policy decides how a "move this piece" gesture is applied.
type Policy int

const (
	// PolicyForced always overwrites the board without consulting the rules.
	PolicyForced Policy = iota
	// PolicyLegalThenForced tries a rule-checked move first and falls back to
	// forced placement when the rules reject it.
	PolicyLegalThenForced
	// PolicyLegal only applies rule-checked moves; anything else is rejected.
	PolicyLegal
)

func (p Policy) String() string {
	switch p {
	case PolicyForced:
		return "forced"
	case PolicyLegalThenForced:
		return "legal_then_forced"
	case PolicyLegal:
		return "legal"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(raw string) (Policy, error) {
	switch raw {
	case "forced", "god":
		return PolicyForced, nil
	case "legal_then_forced":
		return PolicyLegalThenForced, nil
	case "legal":
		return PolicyLegal, nil
	default:
		return PolicyForced, fmt.Errorf("unknown edit policy %q", raw)
	}
}

// Attempt tags which path an operation actually took.
type Attempt int

const (
	AttemptNone Attempt = iota
	AttemptSelect
	AttemptDeselect
	AttemptLegal
	AttemptForced
	AttemptPlace
	AttemptRemove
	AttemptSide
	AttemptOrientation
	AttemptSpare
	AttemptReset
	AttemptClear
	AttemptLoad
)

var attemptNames = map[Attempt]string{
	AttemptNone:        "none",
	AttemptSelect:      "select",
	AttemptDeselect:    "deselect",
	AttemptLegal:       "legal",
	AttemptForced:      "forced",
	AttemptPlace:       "place",
	AttemptRemove:      "remove",
	AttemptSide:        "side",
	AttemptOrientation: "orientation",
	AttemptSpare:       "spare",
	AttemptReset:       "reset",
	AttemptClear:       "clear",
	AttemptLoad:        "load",
}

func (a Attempt) String() string {
	if s, ok := attemptNames[a]; ok {
		return s
	}
	return fmt.Sprintf("attempt(%d)", int(a))
}

// Outcome reports the result of one gesture.
type Outcome struct {
	Attempt Attempt
	Changed bool
	FEN     string
}

// movePiece applies a move gesture under policy. The legal attempt is only taken when the
// source actually holds the piece the gesture claims to move.
func movePiece(pos position.Position, from, to position.Square, piece position.Piece, policy Policy) (position.Position, Attempt, error) {
	if policy == PolicyLegalThenForced || policy == PolicyLegal {
		if src, ok := pos.Get(from); ok && src == piece {
			if next, legal := pos.Move(from, to, position.NoPieceType); legal {
				return next, AttemptLegal, nil
			}
		}
		if policy == PolicyLegal {
			return pos, AttemptLegal, fmt.Errorf("%w: %s%s", ErrIllegalMove, from, to)
		}
	}
	next, err := forceMove(pos, from, to, piece)
	return next, AttemptForced, err
}

// forceMove vacates from and puts piece on to. Intermediate states never leave this function.
func forceMove(pos position.Position, from, to position.Square, piece position.Piece) (position.Position, error) {
	vacated, err := pos.Remove(from)
	if err != nil {
		return pos, fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	next, err := vacated.Put(to, piece)
	if err != nil {
		return pos, fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	return next, nil
}

// forcePlace overwrites sq with piece.
func forcePlace(pos position.Position, sq position.Square, piece position.Piece) (position.Position, error) {
	vacated, err := pos.Remove(sq)
	if err != nil {
		return pos, fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	next, err := vacated.Put(sq, piece)
	if err != nil {
		return pos, fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	return next, nil
}
