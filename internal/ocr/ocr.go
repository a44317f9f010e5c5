// Package ocr reads ingredient text from label photos by delegating to an
// external recognition service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Recognizer extracts text from an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ErrEmptyImage is returned for zero-length uploads.
var ErrEmptyImage = errors.New("ocr: empty image")

// HTTPRecognizer posts the raw image to a recognition endpoint and expects
// {"text": "..."} back. Outgoing calls are throttled by a token bucket.
type HTTPRecognizer struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPRecognizer targets url. rps <= 0 disables throttling.
func NewHTTPRecognizer(url string, rps float64, client *http.Client) *HTTPRecognizer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &HTTPRecognizer{url: url, client: client, limiter: lim}
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Recognize implements Recognizer.
func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ocr: wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ocr: read response: %w", err)
	}
	var out response
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(body, &out)
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("ocr: service returned %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("ocr: decode response: %w", err)
	}
	return out.Text, nil
}

// TextOrEmpty runs rec and degrades any failure to the empty string, which
// scores as an empty ingredient list.
func TextOrEmpty(ctx context.Context, rec Recognizer, image []byte, logger *slog.Logger) string {
	if rec == nil {
		return ""
	}
	text, err := rec.Recognize(ctx, image)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("text recognition failed", "err", err, "bytes", len(image))
		return ""
	}
	return text
}

// Static returns the same text for every image. It backs the local CLI and
// deployments without a recognition service.
type Static string

// Recognize implements Recognizer.
func (s Static) Recognize(context.Context, []byte) (string, error) {
	return string(s), nil
}
