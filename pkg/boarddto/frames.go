package boarddto

// Frame types sent by the server.
const (
	FrameState = "state"
	FrameError = "error"
)

// Command types accepted from the client.
const (
	CmdClick          = "click"
	CmdRightClick     = "right_click"
	CmdDrop           = "drop"
	CmdDragBegin      = "drag_begin"
	CmdSpare          = "spare"
	CmdRemoveSelected = "remove_selected"
	CmdDeselect       = "deselect"
	CmdToggleSide     = "toggle_side"
	CmdSetSide        = "set_side"
	CmdFlip           = "flip"
	CmdReset          = "reset"
	CmdClear          = "clear"
	CmdLoadFEN        = "load_fen"
)

// Command is one user gesture. Only the fields its Type needs are read.
type Command struct {
	Type   string `json:"type"`
	Square string `json:"square,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Piece  string `json:"piece,omitempty"`
	Side   string `json:"side,omitempty"`
	FEN    string `json:"fen,omitempty"`
}

type Arrow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type State struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"session_id"`
	FEN           string  `json:"fen"`
	Orientation   string  `json:"orientation"`
	SideToMove    string  `json:"side_to_move"`
	Selected      string  `json:"selected,omitempty"`
	SelectedSpare string  `json:"selected_spare,omitempty"`
	Revision      uint64  `json:"revision"`
	LastAction    string  `json:"last_action,omitempty"`
	Evaluation    string  `json:"evaluation,omitempty"`
	BestMove      string  `json:"best_move,omitempty"`
	Depth         int     `json:"depth,omitempty"`
	Arrows        []Arrow `json:"arrows"`
	Analyzing     bool    `json:"analyzing"`
	Degraded      bool    `json:"degraded"`
	Scanning      bool    `json:"scanning"`
	Status        string  `json:"status"`
}

type Error struct {
	Type  string      `json:"type"`
	Error DomainError `json:"error"`
}
