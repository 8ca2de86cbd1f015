// Package editor holds the board-edit state machine: square selection, spare-piece
// placement, forced ("God Mode") edits and rule-checked drops. The controller is the
// only writer of the authoritative position; observers receive a Change after every
// committed gesture.
package editor

import (
	"fmt"
	"sync"

	"github.com/park285/cheese-board-editor/internal/position"
	"go.uber.org/zap"
)

type Orientation string

const (
	OrientationWhite Orientation = "white"
	OrientationBlack Orientation = "black"
)

func (o Orientation) Flip() Orientation {
	if o == OrientationBlack {
		return OrientationWhite
	}
	return OrientationBlack
}

type ChangeKind int

const (
	// ChangeView covers selection, spare and orientation changes.
	ChangeView ChangeKind = iota
	ChangeEdit
	ChangeReset
	ChangeClear
	ChangeLoad
)

type Snapshot struct {
	FEN            string
	Position       position.Position
	Orientation    Orientation
	SideToMove     position.Side
	SelectedSquare string
	SelectedSpare  position.PieceCode
	Revision       uint64
	LastAction     string
}

type Change struct {
	Kind       ChangeKind
	Attempt    Attempt
	FENChanged bool
	Snapshot   Snapshot
	// Seq increases with every committed change. Callbacks run outside the controller
	// lock, so concurrent editors may deliver changes out of Seq order.
	Seq uint64
}

type ChangeCallback func(Change)

type Config struct {
	DropPolicy  Policy
	ClickPolicy Policy
}

func DefaultConfig() Config {
	return Config{
		DropPolicy:  PolicyLegalThenForced,
		ClickPolicy: PolicyForced,
	}
}

type callbackEntry struct {
	id       int
	callback ChangeCallback
}

type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	pos            position.Position
	selectedSquare position.Square
	selectedSpare  *position.Piece
	orientation    Orientation
	revision       uint64
	changes        uint64
	lastAction     string

	cbM    sync.RWMutex
	cbs    []callbackEntry
	nextID int
}

func New(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:            cfg,
		logger:         logger,
		pos:            position.Start(),
		selectedSquare: position.NoSquare,
		orientation:    OrientationWhite,
		lastAction:     "Ready",
	}
}

func (c *Controller) OnChange(cb ChangeCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.cbs = append(c.cbs, callbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Controller) RemoveChangeCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.cbs {
		if cb.id == id {
			c.cbs = append(c.cbs[:i], c.cbs[i+1:]...)
			break
		}
	}
}

func (c *Controller) emit(ch *Change) {
	if ch == nil {
		return
	}
	c.cbM.RLock()
	callbacks := make([]callbackEntry, len(c.cbs))
	copy(callbacks, c.cbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(*ch)
		}
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) FEN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos.FEN()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		FEN:         c.pos.FEN(),
		Position:    c.pos,
		Orientation: c.orientation,
		SideToMove:  c.pos.Turn(),
		Revision:    c.revision,
		LastAction:  c.lastAction,
	}
	if c.selectedSquare.Valid() {
		s.SelectedSquare = c.selectedSquare.String()
	}
	if c.selectedSpare != nil {
		s.SelectedSpare = c.selectedSpare.Code()
	}
	return s
}

// run executes fn under the controller lock and notifies observers afterwards.
func (c *Controller) run(fn func() (Outcome, *Change, error)) (Outcome, error) {
	c.mu.Lock()
	out, ch, err := fn()
	if ch != nil {
		c.changes++
		ch.Seq = c.changes
		ch.Snapshot = c.snapshotLocked()
	}
	out.FEN = c.pos.FEN()
	c.mu.Unlock()
	c.emit(ch)
	return out, err
}

// commit installs next as the authoritative position. Equal boards keep the current value
// so an untouched start position stays the sentinel.
func (c *Controller) commit(next position.Position) bool {
	if next.Expanded() == c.pos.Expanded() {
		return false
	}
	c.pos = next
	c.revision++
	return true
}

func (c *Controller) view(attempt Attempt) *Change {
	return &Change{Kind: ChangeView, Attempt: attempt}
}

func (c *Controller) edit(attempt Attempt, changed bool) *Change {
	if !changed {
		return c.view(attempt)
	}
	return &Change{Kind: ChangeEdit, Attempt: attempt, FENChanged: true}
}

// ClickSquare runs the click decision tree: spare placement, then move or deselect of a
// pinned square, then plain selection.
func (c *Controller) ClickSquare(sq position.Square) (Outcome, error) {
	if !sq.Valid() {
		return Outcome{}, fmt.Errorf("%w: square", ErrInvalidGesture)
	}
	return c.run(func() (Outcome, *Change, error) {
		c.lastAction = "Click: " + sq.String()

		if c.selectedSpare != nil {
			piece := *c.selectedSpare
			next, err := forcePlace(c.pos, sq, piece)
			if err != nil {
				c.logger.Debug("spare placement rejected",
					zap.String("square", sq.String()),
					zap.String("piece", string(piece.Code())),
					zap.Error(err),
				)
				c.lastAction = fmt.Sprintf("Error: Put failed %s->%s", piece.Code(), sq)
				return Outcome{Attempt: AttemptPlace}, c.view(AttemptPlace), err
			}
			c.selectedSquare = position.NoSquare
			changed := c.commit(next)
			c.lastAction = fmt.Sprintf("Place: %s on %s", piece.Code(), sq)
			return Outcome{Attempt: AttemptPlace, Changed: changed}, c.edit(AttemptPlace, changed), nil
		}

		var moveErr error
		if c.selectedSquare.Valid() {
			from := c.selectedSquare
			if from == sq {
				c.selectedSquare = position.NoSquare
				c.lastAction = "Deselected: " + sq.String()
				return Outcome{Attempt: AttemptDeselect}, c.view(AttemptDeselect), nil
			}
			piece, ok := c.pos.Get(from)
			if !ok {
				moveErr = fmt.Errorf("%w: %s", ErrNoPieceOnSource, from)
			} else {
				next, attempt, err := movePiece(c.pos, from, sq, piece, c.cfg.ClickPolicy)
				if err == nil {
					c.selectedSquare = position.NoSquare
					changed := c.commit(next)
					c.lastAction = fmt.Sprintf("ClickMove: %s->%s", from, sq)
					return Outcome{Attempt: attempt, Changed: changed}, c.edit(attempt, changed), nil
				}
				moveErr = err
			}
			c.logger.Debug("click move abandoned",
				zap.String("from", from.String()),
				zap.String("to", sq.String()),
				zap.Error(moveErr),
			)
		}

		if _, ok := c.pos.Get(sq); ok {
			c.selectedSquare = sq
			c.lastAction = "Selected: " + sq.String()
			return Outcome{Attempt: AttemptSelect}, c.view(AttemptSelect), moveErr
		}
		c.selectedSquare = position.NoSquare
		return Outcome{Attempt: AttemptNone}, c.view(AttemptNone), moveErr
	})
}

// RightClickSquare removes whatever stands on sq and drops the selection.
func (c *Controller) RightClickSquare(sq position.Square) (Outcome, error) {
	if !sq.Valid() {
		return Outcome{}, fmt.Errorf("%w: square", ErrInvalidGesture)
	}
	return c.run(func() (Outcome, *Change, error) {
		c.selectedSquare = position.NoSquare
		c.lastAction = "Remove: " + sq.String()
		return c.removeLocked(sq)
	})
}

// RemoveSelected removes the piece on the pinned square.
func (c *Controller) RemoveSelected() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		if !c.selectedSquare.Valid() {
			return Outcome{Attempt: AttemptNone}, nil, nil
		}
		sq := c.selectedSquare
		c.selectedSquare = position.NoSquare
		c.lastAction = "Remove: " + sq.String()
		return c.removeLocked(sq)
	})
}

func (c *Controller) removeLocked(sq position.Square) (Outcome, *Change, error) {
	if _, ok := c.pos.Get(sq); !ok {
		return Outcome{Attempt: AttemptRemove}, c.view(AttemptRemove), nil
	}
	next, err := c.pos.Remove(sq)
	if err != nil {
		c.logger.Debug("remove rejected", zap.String("square", sq.String()), zap.Error(err))
		return Outcome{Attempt: AttemptRemove}, c.view(AttemptRemove), fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	changed := c.commit(next)
	return Outcome{Attempt: AttemptRemove, Changed: changed}, c.edit(AttemptRemove, changed), nil
}

func (c *Controller) Deselect() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		if !c.selectedSquare.Valid() {
			return Outcome{Attempt: AttemptNone}, nil, nil
		}
		c.selectedSquare = position.NoSquare
		return Outcome{Attempt: AttemptDeselect}, c.view(AttemptDeselect), nil
	})
}

// Drop handles a drag-and-drop of code from one square to another under the drop policy.
// With the default policy an illegal move still lands: the board is forced to match
// where the piece was released.
func (c *Controller) Drop(from, to position.Square, code position.PieceCode) (Outcome, error) {
	if !from.Valid() || !to.Valid() {
		return Outcome{}, fmt.Errorf("%w: square", ErrInvalidGesture)
	}
	piece, err := position.ParsePieceCode(string(code))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidGesture, err)
	}
	return c.run(func() (Outcome, *Change, error) {
		c.lastAction = fmt.Sprintf("Drop: %s %s->%s", piece.Code(), from, to)
		next, attempt, err := movePiece(c.pos, from, to, piece, c.cfg.DropPolicy)
		if err != nil {
			c.logger.Debug("drop rejected",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
				zap.String("piece", string(piece.Code())),
				zap.Error(err),
			)
			c.lastAction = fmt.Sprintf("Error: Put failed %s->%s", piece.Code(), to)
			return Outcome{Attempt: attempt}, c.view(attempt), err
		}
		c.selectedSquare = position.NoSquare
		changed := c.commit(next)
		c.lastAction = fmt.Sprintf("Success: %s moved (%s)", piece.Code(), attempt)
		return Outcome{Attempt: attempt, Changed: changed}, c.edit(attempt, changed), nil
	})
}

// DragBegin is diagnostic only.
func (c *Controller) DragBegin(code position.PieceCode, sq position.Square) {
	c.logger.Debug("drag started", zap.String("piece", string(code)), zap.String("square", sq.String()))
}

// SelectSpare toggles the armed spare piece. Arming a spare clears the square selection.
func (c *Controller) SelectSpare(code position.PieceCode) (Outcome, error) {
	piece, err := position.ParsePieceCode(string(code))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidGesture, err)
	}
	return c.run(func() (Outcome, *Change, error) {
		if c.selectedSpare != nil && *c.selectedSpare == piece {
			c.selectedSpare = nil
			c.lastAction = "Spare: off"
			return Outcome{Attempt: AttemptSpare}, c.view(AttemptSpare), nil
		}
		c.selectedSpare = &piece
		c.selectedSquare = position.NoSquare
		c.lastAction = "Spare: " + string(piece.Code())
		return Outcome{Attempt: AttemptSpare}, c.view(AttemptSpare), nil
	})
}

func (c *Controller) ToggleSideToMove() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		return c.setSideLocked(c.pos.Turn().Opposite())
	})
}

func (c *Controller) SetSideToMove(side position.Side) (Outcome, error) {
	if !side.Valid() {
		return Outcome{}, fmt.Errorf("%w: side %q", ErrInvalidGesture, side)
	}
	return c.run(func() (Outcome, *Change, error) {
		if c.pos.Turn() == side {
			return Outcome{Attempt: AttemptSide}, nil, nil
		}
		return c.setSideLocked(side)
	})
}

func (c *Controller) setSideLocked(side position.Side) (Outcome, *Change, error) {
	next, err := c.pos.WithSideToMove(side)
	if err != nil {
		c.logger.Warn("invalid FEN after side swap", zap.String("fen", c.pos.FEN()), zap.Error(err))
		return Outcome{Attempt: AttemptSide}, nil, fmt.Errorf("%w: %v", ErrEditRejected, err)
	}
	changed := c.commit(next)
	c.lastAction = "Turn: " + string(side)
	return Outcome{Attempt: AttemptSide, Changed: changed}, c.edit(AttemptSide, changed), nil
}

func (c *Controller) FlipOrientation() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		c.orientation = c.orientation.Flip()
		return Outcome{Attempt: AttemptOrientation}, c.view(AttemptOrientation), nil
	})
}

// Reset restores the initial layout, white to move, white at the bottom.
func (c *Controller) Reset() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		changed := c.commit(position.Start())
		if !c.pos.IsSentinel() {
			// same board reached by edits: still report the sentinel
			c.pos = position.Start()
		}
		c.selectedSquare = position.NoSquare
		c.selectedSpare = nil
		c.orientation = OrientationWhite
		c.lastAction = "Reset"
		return Outcome{Attempt: AttemptReset, Changed: changed},
			&Change{Kind: ChangeReset, Attempt: AttemptReset, FENChanged: changed}, nil
	})
}

// Clear empties the board and keeps the orientation.
func (c *Controller) Clear() (Outcome, error) {
	return c.run(func() (Outcome, *Change, error) {
		changed := c.commit(position.Empty())
		c.selectedSquare = position.NoSquare
		c.selectedSpare = nil
		c.lastAction = "Clear"
		return Outcome{Attempt: AttemptClear, Changed: changed},
			&Change{Kind: ChangeClear, Attempt: AttemptClear, FENChanged: changed}, nil
	})
}

// LoadFEN replaces the whole position, e.g. with a recognized board.
func (c *Controller) LoadFEN(fen string) (Outcome, error) {
	next, err := position.Parse(fen)
	if err != nil {
		return Outcome{Attempt: AttemptLoad, FEN: c.FEN()}, err
	}
	return c.run(func() (Outcome, *Change, error) {
		changed := next.FEN() != c.pos.FEN()
		if changed {
			c.pos = next
			c.revision++
		}
		c.selectedSquare = position.NoSquare
		c.lastAction = "Load: " + next.FEN()
		return Outcome{Attempt: AttemptLoad, Changed: changed},
			&Change{Kind: ChangeLoad, Attempt: AttemptLoad, FENChanged: changed}, nil
	})
}
