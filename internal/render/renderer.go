// Package render draws the editor board as a PNG: squares, pieces, the selection, engine
// arrows and a one-line status panel.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	"github.com/park285/cheese-board-editor/internal/position"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultBoardPixels = 480
	MinBoardPixels     = 160

	hudHeight  = 30
	hudGap     = 10
	hudRadius  = 8
	hudPadding = 12
)

var ErrBoardTooSmall = errors.New("board size too small")

type Arrow struct {
	From position.Square
	To   position.Square
}

// Scene is one frame of the editor.
type Scene struct {
	Position position.Position
	// Flipped puts black at the bottom.
	Flipped  bool
	Selected *position.Square
	Arrows   []Arrow
	Caption  string
}

type Renderer struct {
	squareSize int
}

func New(boardPixels int) (*Renderer, error) {
	if boardPixels == 0 {
		boardPixels = DefaultBoardPixels
	}
	if boardPixels < MinBoardPixels {
		return nil, fmt.Errorf("%w: %d < %d", ErrBoardTooSmall, boardPixels, MinBoardPixels)
	}
	return &Renderer{squareSize: boardPixels / 8}, nil
}

type layout struct {
	square int
	margin int
	board  image.Rectangle
	hud    image.Rectangle
	bounds image.Rectangle
	flip   bool
}

func (r *Renderer) layout(flipped bool) layout {
	sq := r.squareSize
	margin := sq / 3
	if margin < 14 {
		margin = 14
	}
	boardSize := sq * 8
	top := hudGap + hudHeight + hudGap
	board := image.Rect(margin, top, margin+boardSize, top+boardSize)
	return layout{
		square: sq,
		margin: margin,
		board:  board,
		hud:    image.Rect(margin, hudGap, margin+boardSize, hudGap+hudHeight),
		bounds: image.Rect(0, 0, boardSize+2*margin, board.Max.Y+margin),
		flip:   flipped,
	}
}

// squareRect maps a board square to its pixel rectangle under the current orientation.
func (l layout) squareRect(sq position.Square) image.Rectangle {
	col, row := sq.File(), 7-sq.Rank()
	if l.flip {
		col, row = 7-sq.File(), sq.Rank()
	}
	x := l.board.Min.X + col*l.square
	y := l.board.Min.Y + row*l.square
	return image.Rect(x, y, x+l.square, y+l.square)
}

func (l layout) center(sq position.Square) (float64, float64) {
	r := l.squareRect(sq)
	return float64(r.Min.X) + float64(l.square)/2, float64(r.Min.Y) + float64(l.square)/2
}

// SquareAt is the inverse of the drawing layout, for click handling on the rendered image.
func (r *Renderer) SquareAt(flipped bool, x, y int) (position.Square, bool) {
	l := r.layout(flipped)
	if !(image.Point{X: x, Y: y}).In(l.board) {
		return position.NoSquare, false
	}
	col := (x - l.board.Min.X) / l.square
	row := (y - l.board.Min.Y) / l.square
	file, rank := col, 7-row
	if flipped {
		file, rank = 7-col, row
	}
	return position.NewSquare(file, rank), true
}

func (r *Renderer) RenderPNG(ctx context.Context, scene Scene) ([]byte, error) {
	if scene.Position.IsZero() {
		return nil, position.ErrZeroPosition
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l := r.layout(scene.Flipped)
	img := image.NewRGBA(l.bounds)
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, l)
	if scene.Selected != nil && scene.Selected.Valid() {
		imagedraw.Draw(img, l.squareRect(*scene.Selected), image.NewUniform(selectionColor), image.Point{}, imagedraw.Over)
	}
	for sq, piece := range scene.Position.Pieces() {
		pimg, err := pieceImage(piece, l.square)
		if err != nil {
			return nil, err
		}
		imagedraw.Draw(img, l.squareRect(sq), pimg, image.Point{}, imagedraw.Over)
	}
	for _, a := range scene.Arrows {
		drawArrow(img, l, a, arrowColor)
	}
	drawCoordinates(img, l)
	drawHUD(img, l, scene.Caption)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	selectionColor  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	arrowColor      = color.NRGBA{R: 148, G: 207, B: 255, A: 190}
	hudPanelColor   = color.NRGBA{R: 44, G: 48, B: 68, A: 255}
	hudTextColor    = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordTextColor  = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

func squareColor(sq position.Square) color.Color {
	if (sq.File()+sq.Rank())%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawSquares(dst imagedraw.Image, l layout) {
	for i := 0; i < 64; i++ {
		sq := position.Square(i)
		imagedraw.Draw(dst, l.squareRect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

// drawArrow fills a shaft and a head from the centre of From towards the centre of To.
func drawArrow(img *image.RGBA, l layout, a Arrow, clr color.Color) {
	if !a.From.Valid() || !a.To.Valid() || a.From == a.To {
		return
	}
	sx, sy := l.center(a.From)
	ex, ey := l.center(a.To)
	dx, dy := ex-sx, ey-sy
	length := math.Hypot(dx, dy)
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	sq := float64(l.square)
	shaft := length - sq*0.45
	if shaft < sq*0.35 {
		shaft = length * 0.6
	}
	half := sq * 0.09
	head := sq * 0.22
	bx, by := sx+dirX*shaft, sy+dirY*shaft

	b := img.Bounds()
	filler := rasterx.NewFiller(b.Dx(), b.Dy(), rasterx.NewScannerGV(b.Dx(), b.Dy(), img, b))
	filler.SetColor(clr)
	filler.Start(rasterx.ToFixedP(sx-perpX*half, sy-perpY*half))
	filler.Line(rasterx.ToFixedP(bx-perpX*half, by-perpY*half))
	filler.Line(rasterx.ToFixedP(bx-perpX*head, by-perpY*head))
	filler.Line(rasterx.ToFixedP(ex, ey))
	filler.Line(rasterx.ToFixedP(bx+perpX*head, by+perpY*head))
	filler.Line(rasterx.ToFixedP(bx+perpX*half, by+perpY*half))
	filler.Line(rasterx.ToFixedP(sx+perpX*half, sy+perpY*half))
	filler.Stop(true)
	filler.Draw()
}

func drawCoordinates(img *image.RGBA, l layout) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		// left column carries ranks, bottom row carries files
		rankSq := position.NewSquare(0, i)
		fileSq := position.NewSquare(i, 0)
		if l.flip {
			rankSq = position.NewSquare(7, i)
			fileSq = position.NewSquare(i, 7)
		}
		rr := l.squareRect(rankSq)
		drawCenteredText(drawer, fmt.Sprint(i+1), l.board.Min.X-l.margin/2, rr.Min.Y+l.square/2+ascent/2)
		fr := l.squareRect(fileSq)
		drawCenteredText(drawer, string(rune('a'+i)), fr.Min.X+l.square/2, l.board.Max.Y+(l.margin+ascent)/2)
	}
}

func drawHUD(img *image.RGBA, l layout, caption string) {
	b := img.Bounds()
	filler := rasterx.NewFiller(b.Dx(), b.Dy(), rasterx.NewScannerGV(b.Dx(), b.Dy(), img, b))
	filler.SetColor(hudPanelColor)
	rasterx.AddRoundRect(float64(l.hud.Min.X), float64(l.hud.Min.Y), float64(l.hud.Max.X), float64(l.hud.Max.Y),
		hudRadius, hudRadius, 0, rasterx.RoundGap, filler)
	filler.Draw()

	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	face := basicfont.Face7x13
	caption = truncateWithEllipsis(face, caption, l.hud.Dx()-hudPadding*2)
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(hudTextColor)}
	m := face.Metrics()
	baseline := l.hud.Min.Y + (l.hud.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	drawCenteredText(drawer, caption, l.hud.Min.X+l.hud.Dx()/2, baseline)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(text).Round() <= maxWidth {
		return text
	}
	const ellipsis = "..."
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if candidate := string(runes) + ellipsis; drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}
