package position

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustParse(t *testing.T, fen string) Position {
	t.Helper()
	p, err := Parse(fen)
	if err != nil {
		t.Fatalf("Parse(%q): %v", fen, err)
	}
	return p
}

func assertRoundTrip(t *testing.T, p Position) {
	t.Helper()
	again, err := Parse(p.FEN())
	if err != nil {
		t.Fatalf("re-parse %q: %v", p.FEN(), err)
	}
	if again.FEN() != p.FEN() {
		t.Fatalf("round trip changed FEN: %q -> %q", p.FEN(), again.FEN())
	}
}

func TestParseStartSentinel(t *testing.T) {
	p := mustParse(t, "start")
	if !p.IsSentinel() || p.FEN() != StartSentinel {
		t.Fatalf("expected sentinel, got %q", p.FEN())
	}
	if p.Expanded() != StartFEN {
		t.Fatalf("expanded start = %q", p.Expanded())
	}
	if p.Turn() != White {
		t.Fatalf("turn = %q", p.Turn())
	}
	pc, ok := p.Get(MustSquare("e1"))
	if !ok || pc.Code() != "wK" {
		t.Fatalf("e1 = %v %v", pc, ok)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, fen := range []string{"", "not a fen", "8/8/8 w - - 0"} {
		if _, err := Parse(fen); !errors.Is(err, ErrInvalidFEN) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidFEN", fen, err)
		}
	}
}

func TestParseFourFieldFEN(t *testing.T) {
	p := mustParse(t, "8/8/8/8/8/8/8/K6k w - -")
	if !strings.HasSuffix(p.FEN(), " 0 1") {
		t.Fatalf("counters not appended: %q", p.FEN())
	}
}

func TestPutRemoveRoundTrip(t *testing.T) {
	p := Start()
	next, err := p.Remove(MustSquare("e2"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	next, err = next.Put(MustSquare("e5"), Piece{Side: White, Type: Pawn})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if next.IsSentinel() {
		t.Fatalf("edited position still reports sentinel")
	}
	if _, ok := next.Get(MustSquare("e2")); ok {
		t.Fatalf("e2 still occupied")
	}
	if pc, ok := next.Get(MustSquare("e5")); !ok || pc.Code() != "wP" {
		t.Fatalf("e5 = %v", pc)
	}
	assertRoundTrip(t, next)
}

func TestPutOverwritesOccupant(t *testing.T) {
	p := Start()
	next, err := p.Put(MustSquare("d8"), Piece{Side: White, Type: Knight})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	pc, _ := next.Get(MustSquare("d8"))
	if pc.Code() != "wN" {
		t.Fatalf("d8 = %s", pc.Code())
	}
}

func TestPutSecondKingRejected(t *testing.T) {
	p := Start()
	_, err := p.Put(MustSquare("e4"), Piece{Side: White, Type: King})
	if !errors.Is(err, ErrDuplicateKing) {
		t.Fatalf("err = %v, want ErrDuplicateKing", err)
	}
}

func TestEditDropsStaleCastlingRights(t *testing.T) {
	p := Start()
	next, err := p.Remove(MustSquare("h1"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if next.Castling() != "Qkq" {
		t.Fatalf("castling = %q, want Qkq", next.Castling())
	}
	next, err = next.Remove(MustSquare("e8"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if next.Castling() != "Q" {
		t.Fatalf("castling = %q, want Q", next.Castling())
	}
}

func TestEditClearsStaleEnPassant(t *testing.T) {
	p := mustParse(t, "rnbqkbnr/ppp1pppp/8/8/3pP3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 3")
	kept, err := p.Remove(MustSquare("a7"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if kept.EnPassant() != "e3" {
		t.Fatalf("unrelated edit cleared en passant: %q", kept.EnPassant())
	}
	cleared, err := p.Remove(MustSquare("e4"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if cleared.EnPassant() != "-" {
		t.Fatalf("en passant = %q, want -", cleared.EnPassant())
	}
}

func TestMoveLegal(t *testing.T) {
	p := Start()
	next, ok := p.Move(MustSquare("e2"), MustSquare("e4"), NoPieceType)
	if !ok {
		t.Fatalf("e2e4 rejected")
	}
	if next.Turn() != Black {
		t.Fatalf("turn = %s", next.Turn())
	}
	fields := strings.Fields(next.FEN())
	if diff := cmp.Diff("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", fields[0]); diff != "" {
		t.Fatalf("placement mismatch (-want +got):\n%s", diff)
	}
	assertRoundTrip(t, next)
}

func TestMoveIllegalRejected(t *testing.T) {
	p := Start()
	cases := [][2]string{{"e2", "e5"}, {"e7", "e5"}, {"e4", "e5"}, {"e2", "e2"}}
	for _, c := range cases {
		next, ok := p.Move(MustSquare(c[0]), MustSquare(c[1]), NoPieceType)
		if ok {
			t.Fatalf("%s%s accepted", c[0], c[1])
		}
		if next.FEN() != p.FEN() {
			t.Fatalf("rejected move changed position")
		}
	}
}

func TestMoveAutoPromotesToQueen(t *testing.T) {
	p := mustParse(t, "8/4P3/8/8/8/8/k7/4K3 w - - 0 1")
	next, ok := p.Move(MustSquare("e7"), MustSquare("e8"), NoPieceType)
	if !ok {
		t.Fatalf("promotion rejected")
	}
	pc, _ := next.Get(MustSquare("e8"))
	if pc.Code() != "wQ" {
		t.Fatalf("e8 = %s, want wQ", pc.Code())
	}
}

func TestWithSideToMove(t *testing.T) {
	p := mustParse(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	flipped, err := p.WithSideToMove(White)
	if err != nil {
		t.Fatalf("WithSideToMove: %v", err)
	}
	fields := strings.Fields(flipped.FEN())
	if fields[1] != "w" || fields[3] != "-" || fields[4] != "0" || fields[5] != "1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	back, err := flipped.WithSideToMove(Black)
	if err != nil {
		t.Fatalf("WithSideToMove: %v", err)
	}
	if strings.Fields(back.FEN())[1] != "b" {
		t.Fatalf("side not restored: %q", back.FEN())
	}
}

func TestParsePieceCode(t *testing.T) {
	got, err := ParsePieceCode("bN")
	if err != nil {
		t.Fatalf("ParsePieceCode: %v", err)
	}
	if diff := cmp.Diff(Piece{Side: Black, Type: Knight}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"", "x", "wX", "zP", "wPP"} {
		if _, err := ParsePieceCode(bad); !errors.Is(err, ErrInvalidPiece) {
			t.Fatalf("ParsePieceCode(%q) err = %v", bad, err)
		}
	}
}

func TestParseSquare(t *testing.T) {
	sq, err := ParseSquare("h8")
	if err != nil || sq != 63 || sq.String() != "h8" {
		t.Fatalf("h8 -> %d %v", sq, err)
	}
	if _, err := ParseSquare("i9"); !errors.Is(err, ErrInvalidSquare) {
		t.Fatalf("expected ErrInvalidSquare, got %v", err)
	}
}
