// Package extract calls the external text-extraction service that turns
// attachment bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// minTextLength is the shortest extraction result accepted. Anything
// below it indicates a scanned document that needs an OCR pipeline.
const minTextLength = 50

// ErrTextTooShort reports an extraction that produced too little text.
var ErrTextTooShort = errors.New("extracted text too short")

// Config holds the extraction service endpoint settings.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Gateway is the boundary to the extraction service: bytes in, text or
// failure out. It carries no retry logic of its own.
type Gateway struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a Gateway.
func New(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type extractionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Extract sends raw attachment bytes to the service and returns the
// extracted text. Results shorter than the minimum length are rejected
// with ErrTextTooShort.
func (g *Gateway) Extract(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction service status %d", resp.StatusCode)
	}

	var result extractionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("extraction service error: %s", result.Error)
	}

	if len(strings.TrimSpace(result.Text)) < minTextLength {
		return "", ErrTextTooShort
	}
	return result.Text, nil
}
