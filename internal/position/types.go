package position

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

type Side string

const (
	White Side = "w"
	Black Side = "b"
)

func (s Side) Opposite() Side {
	if s == Black {
		return White
	}
	return Black
}

func (s Side) Valid() bool { return s == White || s == Black }

func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "w", "white":
		return White, nil
	case "b", "black":
		return Black, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

type PieceType uint8

const (
	NoPieceType PieceType = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

var pieceLetters = map[PieceType]byte{
	Pawn:   'P',
	Knight: 'N',
	Bishop: 'B',
	Rook:   'R',
	Queen:  'Q',
	King:   'K',
}

func (t PieceType) Letter() string {
	if b, ok := pieceLetters[t]; ok {
		return string(b)
	}
	return ""
}

type Piece struct {
	Side Side
	Type PieceType
}

// Code returns the two-letter board code, e.g. "wP" or "bK".
func (p Piece) Code() PieceCode {
	return PieceCode(string(p.Side) + p.Type.Letter())
}

func (p Piece) String() string { return string(p.Code()) }

// PieceCode is the colour-prefixed piece code used by the board view ("wN", "bQ").
type PieceCode string

func ParsePieceCode(raw string) (Piece, error) {
	code := strings.TrimSpace(raw)
	if len(code) != 2 {
		return Piece{}, fmt.Errorf("%w: %q", ErrInvalidPiece, raw)
	}
	var side Side
	switch code[0] {
	case 'w', 'W':
		side = White
	case 'b', 'B':
		side = Black
	default:
		return Piece{}, fmt.Errorf("%w: %q", ErrInvalidPiece, raw)
	}
	letter := strings.ToUpper(code[1:])[0]
	for t, b := range pieceLetters {
		if b == letter {
			return Piece{Side: side, Type: t}, nil
		}
	}
	return Piece{}, fmt.Errorf("%w: %q", ErrInvalidPiece, raw)
}

// Square indexes the board a1=0 .. h8=63, file-major within a rank.
type Square uint8

const NoSquare Square = 0xff

func NewSquare(file, rank int) Square {
	return Square(rank*8 + file)
}

func ParseSquare(raw string) (Square, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return NoSquare, fmt.Errorf("%w: %q", ErrInvalidSquare, raw)
	}
	return NewSquare(int(s[0]-'a'), int(s[1]-'1')), nil
}

func MustSquare(raw string) Square {
	sq, err := ParseSquare(raw)
	if err != nil {
		panic(err)
	}
	return sq
}

func (s Square) File() int { return int(s) % 8 }
func (s Square) Rank() int { return int(s) / 8 }

func (s Square) Valid() bool { return s < 64 }

func (s Square) String() string {
	if !s.Valid() {
		return "-"
	}
	return string([]byte{byte('a' + s.File()), byte('1' + s.Rank())})
}

func (s Square) lib() nchess.Square {
	return nchess.NewSquare(nchess.File(s.File()), nchess.Rank(s.Rank()))
}

func fromLibSquare(sq nchess.Square) Square {
	return NewSquare(int(sq.File()), int(sq.Rank()))
}

var (
	toLibType = map[PieceType]nchess.PieceType{
		Pawn:   nchess.Pawn,
		Knight: nchess.Knight,
		Bishop: nchess.Bishop,
		Rook:   nchess.Rook,
		Queen:  nchess.Queen,
		King:   nchess.King,
	}
	fromLibType = map[nchess.PieceType]PieceType{
		nchess.Pawn:   Pawn,
		nchess.Knight: Knight,
		nchess.Bishop: Bishop,
		nchess.Rook:   Rook,
		nchess.Queen:  Queen,
		nchess.King:   King,
	}
)

func (p Piece) lib() nchess.Piece {
	c := nchess.White
	if p.Side == Black {
		c = nchess.Black
	}
	return nchess.NewPiece(toLibType[p.Type], c)
}

func fromLibPiece(p nchess.Piece) (Piece, bool) {
	if p == nchess.NoPiece {
		return Piece{}, false
	}
	t, ok := fromLibType[p.Type()]
	if !ok {
		return Piece{}, false
	}
	side := White
	if p.Color() == nchess.Black {
		side = Black
	}
	return Piece{Side: side, Type: t}, true
}
