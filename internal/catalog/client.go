package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/havaian/sud-ai/internal/metrics"
)

const (
	listTimeout       = 30 * time.Second
	attachmentTimeout = 60 * time.Second

	newListPath       = "/publications/list"
	oldListPath       = "/unauthorized/publications"
	newAttachmentPath = "/public/onStream/"
	oldAttachmentPath = "/api/file/download/"
)

// RateGate is the slice of the rate controller the client depends on:
// pause before a request, classify the exchange after it.
type RateGate interface {
	Wait(ctx context.Context) error
	Observe(status int, header http.Header) bool
	ObserveFailure()
}

// ClientConfig holds the endpoints and request identity for the client.
type ClientConfig struct {
	NewBase   string
	OldBase   string
	UserAgent string
}

// Client issues listing and attachment requests against either API era.
// Every request consults the rate gate before and after the exchange,
// and a request classified as not-proceeding is retried exactly once.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	gate   RateGate
	logger *zap.Logger
}

// NewClient creates a Client sharing one connection pool across all
// listing and attachment requests.
func NewClient(cfg ClientConfig, gate RateGate, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		gate:   gate,
		logger: logger,
	}
}

// ListPage fetches one listing page for a section. Old-section responses
// that wrap the payload in a "data" envelope (possibly as an embedded
// JSON string) are unwrapped so callers always see one shape.
func (c *Client) ListPage(ctx context.Context, section Section, page, size int, courtType string) (*PageResult, error) {
	base := c.cfg.NewBase + newListPath
	if section == SectionOld {
		base = c.cfg.OldBase + oldListPath
	}
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(page))
	q.Set("court_type", courtType)

	body, err := c.get(ctx, base+"?"+q.Encode(), "list", listTimeout)
	if err != nil {
		return nil, fmt.Errorf("list page %d (%s): %w", page, section, err)
	}

	if section == SectionOld {
		body, err = unwrapEnvelope(body)
		if err != nil {
			return nil, fmt.Errorf("decode page %d (%s): %w", page, section, err)
		}
	}

	var result PageResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode page %d (%s): %w", page, section, err)
	}
	return &result, nil
}

// FetchAttachment downloads the raw attachment bytes for one record.
func (c *Client) FetchAttachment(ctx context.Context, section Section, attachmentID string) ([]byte, error) {
	target := c.cfg.NewBase + newAttachmentPath + attachmentID
	if section == SectionOld {
		target = c.cfg.OldBase + oldAttachmentPath + attachmentID + "/"
	}
	body, err := c.get(ctx, target, "attachment", attachmentTimeout)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %s (%s): %w", attachmentID, section, err)
	}
	return body, nil
}

// get runs the delay/observe/retry-once protocol around a single GET.
// Transport failures are classified as server errors for backoff and
// returned without an inline retry; the caller decides whether to skip.
func (c *Client) get(ctx context.Context, target, kind string, timeout time.Duration) ([]byte, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	status, header, body, err := c.do(ctx, target, kind, timeout)
	if err != nil {
		c.gate.ObserveFailure()
		return nil, err
	}

	if !c.gate.Observe(status, header) {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}
		status, header, body, err = c.do(ctx, target, kind, timeout)
		if err != nil {
			c.gate.ObserveFailure()
			return nil, err
		}
		c.gate.Observe(status, header)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, target, kind string, timeout time.Duration) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	metrics.ObserveHTTPRequest(kind, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// unwrapEnvelope peels the old API's {"data": ...} wrapper. The inner
// payload is sometimes a JSON-encoded string that needs a second decode.
// An envelope whose data is null or empty is a malformed response, not
// an empty page.
func unwrapEnvelope(body []byte) ([]byte, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return body, nil
	}
	if string(envelope.Data) == "null" {
		return nil, fmt.Errorf("envelope data is null")
	}
	var inner string
	if err := json.Unmarshal(envelope.Data, &inner); err == nil {
		if inner == "" {
			return nil, fmt.Errorf("envelope data is empty")
		}
		return []byte(inner), nil
	}
	return envelope.Data, nil
}
