// Package position adapts github.com/corentings/chess/v2 to the small position contract the
// board editor needs: FEN parse/serialize, square access, unconditional put/remove and
// rule-checked moves. Position values are immutable; every edit returns a new value.
package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrInvalidFEN    = errors.New("invalid FEN")
	ErrInvalidSquare = errors.New("invalid square")
	ErrInvalidPiece  = errors.New("invalid piece code")
	ErrIncoherent    = errors.New("edit produced an incoherent position")
	ErrDuplicateKing = errors.New("side already has a king")
	ErrZeroPosition  = errors.New("position not initialized")
	errUnexpectedFEN = errors.New("library produced a malformed FEN")
)

const (
	// StartSentinel stands for the standard initial layout.
	StartSentinel = "start"
	StartFEN      = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	EmptyFEN      = "8/8/8/8/8/8/8/8 w - - 0 1"
)

type Position struct {
	fen       string
	sentinel  bool
	board     [64]Piece
	turn      Side
	castling  string
	enPassant string
	halfmove  string
	fullmove  string
}

// Start returns the standard initial layout, remembered as the "start" sentinel.
func Start() Position {
	p, err := Parse(StartSentinel)
	if err != nil {
		panic(fmt.Sprintf("position: start layout rejected: %v", err))
	}
	return p
}

func Empty() Position {
	p, err := Parse(EmptyFEN)
	if err != nil {
		panic(fmt.Sprintf("position: empty layout rejected: %v", err))
	}
	return p
}

// Parse accepts the "start" sentinel or a FEN string. A four-field FEN gets the
// move counters "0 1" appended.
func Parse(raw string) (Position, error) {
	fen := strings.TrimSpace(raw)
	if fen == StartSentinel {
		p, err := parseFEN(StartFEN)
		if err != nil {
			return Position{}, err
		}
		p.sentinel = true
		return p, nil
	}
	return parseFEN(fen)
}

func parseFEN(fen string) (Position, error) {
	fields := strings.Fields(fen)
	switch len(fields) {
	case 6:
	case 4:
		fields = append(fields, "0", "1")
	default:
		return Position{}, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidFEN, len(fields))
	}
	game, err := loadGame(strings.Join(fields, " "))
	if err != nil {
		return Position{}, err
	}
	return fromGame(game)
}

func loadGame(fen string) (game *nchess.Game, err error) {
	// the rules library trusts its input more than an editor can
	defer func() {
		if r := recover(); r != nil {
			game = nil
			err = fmt.Errorf("%w: %v", ErrInvalidFEN, r)
		}
	}()
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return nchess.NewGame(opt), nil
}

func fromGame(game *nchess.Game) (Position, error) {
	fen := game.FEN()
	fields := strings.Fields(fen)
	if len(fields) != 6 {
		return Position{}, fmt.Errorf("%w: %q", errUnexpectedFEN, fen)
	}
	p := Position{
		fen:       fen,
		turn:      Side(fields[1]),
		castling:  fields[2],
		enPassant: fields[3],
		halfmove:  fields[4],
		fullmove:  fields[5],
	}
	for sq, pc := range game.Position().Board().SquareMap() {
		if piece, ok := fromLibPiece(pc); ok {
			p.board[fromLibSquare(sq)] = piece
		}
	}
	return p, nil
}

func (p Position) IsZero() bool { return p.fen == "" }

func (p Position) IsSentinel() bool { return p.sentinel }

// FEN returns the authoritative string: the sentinel for an untouched start position,
// otherwise the full six-field FEN.
func (p Position) FEN() string {
	if p.sentinel {
		return StartSentinel
	}
	return p.fen
}

// Expanded always returns the six-field FEN, even for the sentinel.
func (p Position) Expanded() string { return p.fen }

func (p Position) Turn() Side { return p.turn }

func (p Position) Castling() string { return p.castling }

func (p Position) EnPassant() string { return p.enPassant }

func (p Position) Get(sq Square) (Piece, bool) {
	if !sq.Valid() {
		return Piece{}, false
	}
	pc := p.board[sq]
	return pc, pc.Type != NoPieceType
}

// Pieces returns the occupied squares.
func (p Position) Pieces() map[Square]Piece {
	out := make(map[Square]Piece)
	for i, pc := range p.board {
		if pc.Type != NoPieceType {
			out[Square(i)] = pc
		}
	}
	return out
}

// Put places piece on sq, overwriting any occupant. It does not consult move legality.
func (p Position) Put(sq Square, piece Piece) (Position, error) {
	if p.IsZero() {
		return p, ErrZeroPosition
	}
	if !sq.Valid() {
		return p, ErrInvalidSquare
	}
	if !piece.Side.Valid() || piece.Type == NoPieceType || piece.Type > King {
		return p, ErrInvalidPiece
	}
	board := p.board
	if piece.Type == King {
		for i, pc := range board {
			if Square(i) != sq && pc == piece {
				return p, fmt.Errorf("%w: %s on %s", ErrDuplicateKing, piece.Code(), Square(i))
			}
		}
	}
	board[sq] = piece
	return p.withBoard(board)
}

func (p Position) Remove(sq Square) (Position, error) {
	if p.IsZero() {
		return p, ErrZeroPosition
	}
	if !sq.Valid() {
		return p, ErrInvalidSquare
	}
	board := p.board
	board[sq] = Piece{}
	return p.withBoard(board)
}

// Move plays a rule-checked move. It reports false when the rules reject it. A pawn
// reaching the last rank without an explicit promotion becomes a queen.
func (p Position) Move(from, to Square, promo PieceType) (Position, bool) {
	if p.IsZero() || !from.Valid() || !to.Valid() || from == to {
		return p, false
	}
	mover := p.board[from]
	if mover.Type == NoPieceType || mover.Side != p.turn {
		return p, false
	}
	if promo == NoPieceType && mover.Type == Pawn && isLastRank(mover.Side, to) {
		promo = Queen
	}
	game, err := loadGame(p.fen)
	if err != nil {
		return p, false
	}
	if !isLegal(game, from, to, promo) {
		return p, false
	}
	text := from.String() + to.String()
	if promo != NoPieceType {
		text += strings.ToLower(promo.Letter())
	}
	mv, err := nchess.UCINotation{}.Decode(game.Position(), text)
	if err != nil {
		return p, false
	}
	if err := game.Move(mv, nil); err != nil {
		return p, false
	}
	next, err := fromGame(game)
	if err != nil {
		return p, false
	}
	return next, true
}

// WithSideToMove rewrites the side-to-move field and clears the en-passant target.
// Move counters are kept.
func (p Position) WithSideToMove(side Side) (Position, error) {
	if p.IsZero() {
		return p, ErrZeroPosition
	}
	if !side.Valid() {
		return p, fmt.Errorf("%w: side %q", ErrInvalidFEN, side)
	}
	fields := strings.Fields(p.fen)
	fields[1] = string(side)
	fields[3] = "-"
	next, err := parseFEN(strings.Join(fields, " "))
	if err != nil {
		return p, err
	}
	return next, nil
}

func (p Position) withBoard(board [64]Piece) (Position, error) {
	fields := []string{
		placement(board),
		string(p.turn),
		castlingFor(board, p.castling),
		enPassantFor(board, p.turn, p.enPassant),
		p.halfmove,
		p.fullmove,
	}
	next, err := parseFEN(strings.Join(fields, " "))
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrIncoherent, err)
	}
	return next, nil
}

func placement(board [64]Piece) string {
	m := make(map[nchess.Square]nchess.Piece)
	for i, pc := range board {
		if pc.Type != NoPieceType {
			m[Square(i).lib()] = pc.lib()
		}
	}
	return nchess.NewBoard(m).String()
}

func isLegal(game *nchess.Game, from, to Square, promo PieceType) bool {
	want := nchess.NoPieceType
	if promo != NoPieceType {
		want = toLibType[promo]
	}
	s1, s2 := from.lib(), to.lib()
	for _, mv := range game.ValidMoves() {
		if mv.S1() == s1 && mv.S2() == s2 && mv.Promo() == want {
			return true
		}
	}
	return false
}

func isLastRank(side Side, sq Square) bool {
	if side == White {
		return sq.Rank() == 7
	}
	return sq.Rank() == 0
}

type castlingRight struct {
	flag byte
	king Square
	rook Square
	side Side
}

var castlingRights = []castlingRight{
	{flag: 'K', king: NewSquare(4, 0), rook: NewSquare(7, 0), side: White},
	{flag: 'Q', king: NewSquare(4, 0), rook: NewSquare(0, 0), side: White},
	{flag: 'k', king: NewSquare(4, 7), rook: NewSquare(7, 7), side: Black},
	{flag: 'q', king: NewSquare(4, 7), rook: NewSquare(0, 7), side: Black},
}

// castlingFor keeps only the rights whose king and rook are still on their home squares.
func castlingFor(board [64]Piece, current string) string {
	var sb strings.Builder
	for _, r := range castlingRights {
		if !strings.ContainsRune(current, rune(r.flag)) {
			continue
		}
		if board[r.king] != (Piece{Side: r.side, Type: King}) {
			continue
		}
		if board[r.rook] != (Piece{Side: r.side, Type: Rook}) {
			continue
		}
		sb.WriteByte(r.flag)
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// enPassantFor keeps the target only while the double-pushed pawn still stands in front
// of it and the squares it crossed are empty.
func enPassantFor(board [64]Piece, turn Side, current string) string {
	target, err := ParseSquare(current)
	if err != nil {
		return "-"
	}
	var pawnSq, originSq Square
	var pusher Side
	switch {
	case target.Rank() == 2 && turn == Black:
		pusher = White
		pawnSq = NewSquare(target.File(), 3)
		originSq = NewSquare(target.File(), 1)
	case target.Rank() == 5 && turn == White:
		pusher = Black
		pawnSq = NewSquare(target.File(), 4)
		originSq = NewSquare(target.File(), 6)
	default:
		return "-"
	}
	if board[pawnSq] != (Piece{Side: pusher, Type: Pawn}) {
		return "-"
	}
	if board[target].Type != NoPieceType || board[originSq].Type != NoPieceType {
		return "-"
	}
	return current
}
