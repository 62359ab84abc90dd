// Package gateway holds the HTTP clients for the email and chat backends.
// Both are narrow-verb JSON APIs; failures during normal dispatch are logged
// and dropped by callers, while bootstrap retries with backoff.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks a backend connection failure.
var ErrUnavailable = errors.New("gateway: unavailable")

// StyleFilter is the persona-voice post-filter applied by the adapters just
// before a send. Identity when nil. The core never calls it directly.
type StyleFilter func(text string, personaID int64, messageType string) string

func applyFilter(f StyleFilter, text string, personaID int64, messageType string) string {
	if f == nil {
		return text
	}
	return f(text, personaID, messageType)
}

// httpJSON posts a JSON body and decodes a JSON reply into out (out may be nil).
func httpJSON(ctx context.Context, client *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway: %s %s: status %d (%s)", method, url, resp.StatusCode, compact(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode: %w", err)
		}
	}
	return nil
}

func compact(raw []byte) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// backoffDelay is exponential with 10% jitter, capped at maxDelay.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	multiplier := math.Pow(2, float64(attempt-1))
	if math.IsInf(multiplier, 1) || multiplier > float64(maxDelay)/float64(base) {
		delay := maxDelay
		return delay + time.Duration(rand.Float64()*0.1*float64(delay))
	}
	delay := base * time.Duration(multiplier)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay + time.Duration(rand.Float64()*0.1*float64(delay))
}

// waitReady polls ping with exponential backoff, up to 10 attempts.
func waitReady(ctx context.Context, ping func(context.Context) error) error {
	const attempts = 10
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(i, 500*time.Millisecond, 30*time.Second)):
			}
		}
		if lastErr = ping(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: not ready after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}
