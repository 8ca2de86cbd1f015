// Package analysis turns position changes into debounced engine requests and decodes the
// engine's line output into an evaluation and a best-move arrow.
package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-board-editor/internal/position"
)

type EvalKind int

const (
	EvalUnknown EvalKind = iota
	EvalCentipawns
	EvalMate
)

// Evaluation is engine-relative: positive favours the side to move.
type Evaluation struct {
	Kind       EvalKind
	Centipawns int
	Mate       int
}

// String renders "0.34" for centipawns and "M3"/"M-2" for mates. Unknown is empty.
func (e Evaluation) String() string {
	switch e.Kind {
	case EvalCentipawns:
		return fmt.Sprintf("%.2f", float64(e.Centipawns)/100)
	case EvalMate:
		return fmt.Sprintf("M%d", e.Mate)
	default:
		return ""
	}
}

type Arrow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type EventKind int

const (
	EventNone EventKind = iota
	EventEval
	EventBestMove
	// EventNoMove is "bestmove (none)": the position is terminal.
	EventNoMove
)

type Event struct {
	Kind     EventKind
	Eval     Evaluation
	Depth    int
	BestMove string
	Ponder   string
	Arrow    *Arrow
}

// ParseLine decodes one engine output line. Lines it does not understand yield EventNone.
func ParseLine(line string) Event {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}
	}
	if fields[0] == "bestmove" {
		return parseBestMove(fields)
	}
	return parseScore(fields)
}

func parseBestMove(fields []string) Event {
	if len(fields) < 2 {
		return Event{}
	}
	mv := fields[1]
	if mv == "(none)" {
		return Event{Kind: EventNoMove}
	}
	arrow, ok := arrowFor(mv)
	if !ok {
		return Event{}
	}
	ev := Event{Kind: EventBestMove, BestMove: mv, Arrow: arrow}
	if len(fields) >= 4 && fields[2] == "ponder" {
		ev.Ponder = fields[3]
	}
	return ev
}

func parseScore(fields []string) Event {
	var (
		ev     Event
		scored bool
	)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					ev.Depth = v
				}
				i++
			}
		case "score":
			if i+2 >= len(fields) {
				return Event{}
			}
			v, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return Event{}
			}
			switch fields[i+1] {
			case "cp":
				ev.Eval = Evaluation{Kind: EvalCentipawns, Centipawns: v}
			case "mate":
				ev.Eval = Evaluation{Kind: EvalMate, Mate: v}
			default:
				return Event{}
			}
			scored = true
			i += 2
		case "pv":
			i = len(fields)
		}
	}
	if !scored {
		return Event{}
	}
	ev.Kind = EventEval
	return ev
}

func arrowFor(mv string) (*Arrow, bool) {
	if len(mv) < 4 {
		return nil, false
	}
	from, err := position.ParseSquare(mv[0:2])
	if err != nil {
		return nil, false
	}
	to, err := position.ParseSquare(mv[2:4])
	if err != nil {
		return nil, false
	}
	return &Arrow{From: from.String(), To: to.String()}, true
}
