package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type recognizeResponse struct {
	FEN *string `json:"fen"`
}

// HTTPRecognizer posts the raw image to <base>/recognize and expects {"fen": "..."} or
// {"fen": null}.
type HTTPRecognizer struct {
	baseURL string
	http    *fasthttp.Client
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*HTTPRecognizer)

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPRecognizer) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithRetry(max int) Option {
	return func(c *HTTPRecognizer) { c.retryMax = max }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *HTTPRecognizer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDial replaces the network dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *HTTPRecognizer) { c.http.Dial = dial }
}

func NewHTTPRecognizer(baseURL string, opts ...Option) *HTTPRecognizer {
	c := &HTTPRecognizer{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		logger:         zap.NewNop(),
		defaultTimeout: 30 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPRecognizer) Recognize(ctx context.Context, image []byte) (string, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/recognize")
	req.Header.SetContentType("application/octet-stream")
	req.SetBody(image)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("vision request failed: %w", err)
			if attempt == attempts {
				return "", false, lastErr
			}
			c.logger.Warn("vision request retry", zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", false, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := fmt.Errorf("vision api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return "", false, err
			}
			lastErr = err
			c.logger.Warn("vision request retry", zap.Int("attempt", attempt), zap.Int("status", status))
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", false, lastErr
			}
			continue
		}

		var out recognizeResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", false, fmt.Errorf("decode vision response: %w", err)
		}
		if out.FEN == nil || strings.TrimSpace(*out.FEN) == "" {
			return "", false, nil
		}
		return strings.TrimSpace(*out.FEN), true, nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return "", false, lastErr
}

func (c *HTTPRecognizer) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
