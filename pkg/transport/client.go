package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedResponse is returned when a response frame cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrTimeout is returned when no complete response arrives in time.
	ErrTimeout = errors.New("response timeout")
)

// maxFrame bounds a response frame: two heights of at most a handful of
// digits each plus the fixed text.
const maxFrame = 64

// Client issues height requests to a controller.
type Client struct {
	rw      io.ReadWriter
	timeout time.Duration
	idle    time.Duration
}

// NewClient creates a client on rw. timeout bounds a whole request.
func NewClient(rw io.ReadWriter, timeout time.Duration) *Client {
	return &Client{
		rw:      rw,
		timeout: timeout,
		idle:    DefaultIdleDelay,
	}
}

// Heights requests and returns the heights of both tanks.
func (c *Client) Heights(ctx context.Context) (h1, h2 float32, err error) {
	frame, err := c.Query(ctx)
	if err != nil {
		return 0, 0, err
	}
	return Parse(frame)
}

// Query sends a request and returns the raw response frame.
func (c *Client) Query(ctx context.Context) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if _, err := c.rw.Write([]byte{RequestByte}); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	var frame strings.Builder
	buf := make([]byte, maxFrame)
	for {
		n, err := c.rw.Read(buf)
		for _, b := range buf[:n] {
			frame.WriteByte(b)
			if b == '!' {
				return frame.String(), nil
			}
			if frame.Len() >= maxFrame {
				return "", fmt.Errorf("%w: no terminator in %d bytes", ErrMalformedResponse, maxFrame)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: stream closed after %q", ErrTimeout, frame.String())
			}
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: got %q", ErrTimeout, frame.String())
			case <-time.After(c.idle):
			}
		} else if ctx.Err() != nil {
			return "", fmt.Errorf("%w: got %q", ErrTimeout, frame.String())
		}
	}
}

// Parse parses a response frame of the form T1=<h1>T2=<h2>!.
func Parse(frame string) (h1, h2 float32, err error) {
	rest, ok := strings.CutPrefix(frame, "T1=")
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing T1 in %q", ErrMalformedResponse, frame)
	}
	rest, ok = strings.CutSuffix(rest, "!")
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing terminator in %q", ErrMalformedResponse, frame)
	}
	s1, s2, ok := strings.Cut(rest, "T2=")
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing T2 in %q", ErrMalformedResponse, frame)
	}

	v1, err := strconv.ParseFloat(s1, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid T1: %w", ErrMalformedResponse, err)
	}
	v2, err := strconv.ParseFloat(s2, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid T2: %w", ErrMalformedResponse, err)
	}
	return float32(v1), float32(v2), nil
}
