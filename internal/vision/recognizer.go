// Package vision hands board images to a recognition service and gets back a FEN, or
// nothing when the board could not be read.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotAnImage    = errors.New("upload is not a supported image")
	ErrImageTooLarge = errors.New("image too large")
)

const (
	MaxImageBytes = 10 << 20
	maxImageSide  = 8192

	// DemoFEN is the Ruy Lopez position the demo recognizer always reports.
	DemoFEN = "r1bqkbnr/pppp1ppp/2n5/1B2p3/4P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3"
)

// Recognizer turns an image into a FEN. ok is false when the service answered but could
// not read a board; err is reserved for transport failures.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (fen string, ok bool, err error)
}

// ValidateImage rejects anything that does not decode as png, jpeg, gif, bmp or webp.
// It returns the detected format.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotAnImage
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty image", ErrNotAnImage)
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	return format, nil
}

// StaticRecognizer answers every image with the same FEN after a fixed delay. It stands in
// for the recognition service in demos.
type StaticRecognizer struct {
	FEN   string
	Delay time.Duration
}

func NewStaticRecognizer() *StaticRecognizer {
	return &StaticRecognizer{FEN: DemoFEN, Delay: 2500 * time.Millisecond}
}

func (s *StaticRecognizer) Recognize(ctx context.Context, _ []byte) (string, bool, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-t.C:
		}
	}
	if s.FEN == "" {
		return "", false, nil
	}
	return s.FEN, true, nil
}
