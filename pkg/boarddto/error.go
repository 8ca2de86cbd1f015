package boarddto

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "board editor error"
}

// Error codes double as message catalog keys under "errors.".
const (
	CodeInvalidFEN        = "invalid_fen"
	CodeEditRejected      = "edit_rejected"
	CodeIllegalMove       = "illegal_move"
	CodeNoPiece           = "no_piece"
	CodeInvalidGesture    = "invalid_gesture"
	CodeScanInProgress    = "scan_in_progress"
	CodeRecognitionFailed = "recognition_failed"
	CodeNotAnImage        = "not_an_image"
	CodeImageTooLarge     = "image_too_large"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionLimit      = "session_limit"
	CodeInternal          = "internal"
)
