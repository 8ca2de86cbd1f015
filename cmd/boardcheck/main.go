package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/park285/cheese-board-editor/internal/position"
	"github.com/park285/cheese-board-editor/pkg/boarddto"
	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	stateColor = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed, color.Bold)
	infoColor  = color.New(color.FgCyan)
)

var (
	lightCell = []color.Attribute{color.BgYellow}
	darkCell  = []color.Attribute{color.BgGreen}
	whiteMan  = []color.Attribute{color.FgHiWhite, color.Bold}
	blackMan  = []color.Attribute{color.FgBlack, color.Bold}
)

// frame is either a state or an error frame.
type frame struct {
	boarddto.State
	Error *boarddto.DomainError `json:"error"`
}

func main() {
	wsURL := os.Getenv("BOARD_WS_URL")
	httpURL := strings.TrimRight(os.Getenv("BOARD_HTTP_URL"), "/")
	if wsURL == "" {
		log.Fatal("BOARD_WS_URL is required")
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.Dial(cctx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	ccancel()
	if err != nil {
		log.Fatalf("WS connect error: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := make(chan string, 1)
	go func() {
		announced := false
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				if ctx.Err() == nil {
					errorColor.Printf("connection lost: %v\n", err)
				}
				cancel()
				return
			}
			if !announced && f.SessionID != "" {
				sessionID <- f.SessionID
				announced = true
			}
			printFrame(f)
		}
	}()

	var id string
	select {
	case id = <-sessionID:
		infoColor.Printf("session %s\n", id)
	case <-time.After(5 * time.Second):
		log.Fatal("no initial state from server")
	}

	infoColor.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return
		case strings.HasPrefix(line, "upload "):
			if httpURL == "" {
				errorColor.Println("BOARD_HTTP_URL not set")
				continue
			}
			if err := upload(httpURL, id, strings.TrimSpace(strings.TrimPrefix(line, "upload "))); err != nil {
				errorColor.Printf("upload: %v\n", err)
			}
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			errorColor.Println(err)
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(wctx, conn, cmd)
		wcancel()
		if err != nil {
			errorColor.Printf("send: %v\n", err)
			return
		}
	}
}

const usage = `commands: click <sq> | rclick <sq> | drop <from> <to> <piece> | spare <piece> | remove | deselect
          side [w|b] | flip | reset | clear | fen <FEN> | upload <file> | quit`

func printFrame(f frame) {
	if f.Type == boarddto.FrameError && f.Error != nil {
		errorColor.Printf("! %s: %s\n", f.Error.Code, f.Error.Message)
		return
	}
	stateColor.Printf("#%d %s [%s] %s\n", f.Revision, f.FEN, f.Orientation, f.Status)
	if f.LastAction != "" {
		fmt.Printf("   %s\n", f.LastAction)
	}
	pos, err := position.Parse(f.FEN)
	if err != nil {
		return
	}
	fmt.Print(renderBoard(pos, f.Orientation == "black", f.Selected))
}

// renderBoard draws the position with rank labels on the left and file labels below.
func renderBoard(pos position.Position, flipped bool, selected string) string {
	var b strings.Builder
	for row := 0; row < 8; row++ {
		rank := 7 - row
		if flipped {
			rank = row
		}
		fmt.Fprintf(&b, " %d ", rank+1)
		for col := 0; col < 8; col++ {
			file := col
			if flipped {
				file = 7 - col
			}
			sq := position.NewSquare(file, rank)
			cell := lightCell
			if (file+rank)%2 == 0 {
				cell = darkCell
			}
			glyph, man := " ", whiteMan
			if piece, ok := pos.Get(sq); ok {
				glyph = pieceGlyph(piece.Code())
				if piece.Code()[0] == 'b' {
					man = blackMan
				}
			}
			left, right := " ", " "
			if sq.String() == selected {
				left, right = "[", "]"
			}
			bg := color.New(cell...)
			fg := color.New(append(append([]color.Attribute{}, cell...), man...)...)
			b.WriteString(bg.Sprint(left))
			b.WriteString(fg.Sprint(glyph))
			b.WriteString(bg.Sprint(right))
		}
		b.WriteByte('\n')
	}
	b.WriteString("   ")
	for col := 0; col < 8; col++ {
		file := col
		if flipped {
			file = 7 - col
		}
		fmt.Fprintf(&b, " %c ", 'a'+file)
	}
	b.WriteByte('\n')
	return b.String()
}

// pieceGlyph is the FEN letter for a piece code: upper case for white.
func pieceGlyph(code position.PieceCode) string {
	letter := string(code[1])
	if code[0] == 'b' {
		return strings.ToLower(letter)
	}
	return letter
}

func parseCommand(line string) (boarddto.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return boarddto.Command{}, fmt.Errorf("empty command")
	}
	args := fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s)", fields[0], n)
		}
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "click":
		if err := need(1); err != nil {
			return boarddto.Command{}, err
		}
		return boarddto.Command{Type: boarddto.CmdClick, Square: args[0]}, nil
	case "rclick":
		if err := need(1); err != nil {
			return boarddto.Command{}, err
		}
		return boarddto.Command{Type: boarddto.CmdRightClick, Square: args[0]}, nil
	case "drop":
		if err := need(3); err != nil {
			return boarddto.Command{}, err
		}
		return boarddto.Command{Type: boarddto.CmdDrop, From: args[0], To: args[1], Piece: args[2]}, nil
	case "spare":
		if err := need(1); err != nil {
			return boarddto.Command{}, err
		}
		return boarddto.Command{Type: boarddto.CmdSpare, Piece: args[0]}, nil
	case "remove":
		return boarddto.Command{Type: boarddto.CmdRemoveSelected}, nil
	case "deselect":
		return boarddto.Command{Type: boarddto.CmdDeselect}, nil
	case "side":
		if len(args) == 0 {
			return boarddto.Command{Type: boarddto.CmdToggleSide}, nil
		}
		return boarddto.Command{Type: boarddto.CmdSetSide, Side: args[0]}, nil
	case "flip":
		return boarddto.Command{Type: boarddto.CmdFlip}, nil
	case "reset":
		return boarddto.Command{Type: boarddto.CmdReset}, nil
	case "clear":
		return boarddto.Command{Type: boarddto.CmdClear}, nil
	case "fen":
		if err := need(1); err != nil {
			return boarddto.Command{}, err
		}
		return boarddto.Command{Type: boarddto.CmdLoadFEN, FEN: strings.Join(args, " ")}, nil
	default:
		return boarddto.Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

func upload(baseURL, sessionID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + "/sessions/" + sessionID + "/image")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/octet-stream")
	req.SetBodyRaw(data)

	infoColor.Println("scanning...")
	if err := fasthttp.DoTimeout(req, resp, 60*time.Second); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
