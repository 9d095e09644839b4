// Package engine provides the public Go client for the Knowledge Engine API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Errors mapped from API status codes.
var (
	ErrNoAnswer        = errors.New("no answer available")
	ErrAlreadyReviewed = errors.New("response already reviewed")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("knowledge engine: %d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("knowledge engine: %d %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusServiceUnavailable:
		return ErrNoAnswer
	case http.StatusConflict:
		return ErrAlreadyReviewed
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// Client is the Knowledge Engine API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// MaxRetries applies to read-only requests only.
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient creates a new Knowledge Engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8085"
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		maxRetries: uint64(cfg.MaxRetries),
	}, nil
}

// ReplyRequest asks for an answer to a candidate message.
type ReplyRequest struct {
	CandidateID string `json:"candidate_id"`
	Message     string `json:"message"`
	// Mode is auto or suggest; empty uses the server default.
	Mode string `json:"mode,omitempty"`
}

// Reply is a generated answer and its response log id.
type Reply struct {
	LogID          uuid.UUID  `json:"log_id"`
	CandidateID    string     `json:"candidate_id"`
	Answer         string     `json:"answer"`
	Source         string     `json:"source"`
	Confidence     float64    `json:"confidence"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	KBEntryID      *uuid.UUID `json:"kb_entry_id,omitempty"`
	FAQID          *uuid.UUID `json:"faq_id,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms"`
}

// InboundResult lists earlier replies resolved by an inbound message.
type InboundResult struct {
	Checked  int          `json:"checked"`
	Resolved []Resolution `json:"resolved"`
}

// Resolution is one pending reply closed by implicit feedback.
type Resolution struct {
	LogID      string `json:"log_id"`
	Resolution string `json:"resolution"`
	Signal     string `json:"signal"`
	Rule       string `json:"rule,omitempty"`
	Repeated   bool   `json:"repeated"`
}

// FeedbackRequest is an admin decision on a response log.
type FeedbackRequest struct {
	Action       string  `json:"action"`
	EditedAnswer *string `json:"edited_answer,omitempty"`
}

// ResponseLog is a stored reply attempt.
type ResponseLog struct {
	ID              uuid.UUID  `json:"id"`
	CandidateID     string     `json:"candidate_id"`
	IncomingMessage string     `json:"incoming_message"`
	AIResponse      string     `json:"ai_response"`
	FinalResponse   *string    `json:"final_response,omitempty"`
	Mode            string     `json:"mode"`
	Source          string     `json:"source"`
	KBEntryID       *uuid.UUID `json:"kb_entry_id,omitempty"`
	Confidence      float64    `json:"confidence"`
	Status          string     `json:"status"`
	AdminAction     *string    `json:"admin_action,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	Status      string
	CandidateID string
	Limit       int
	Offset      int
}

// FAQ is a curated answer.
type FAQ struct {
	ID       uuid.UUID `json:"id"`
	Category string    `json:"category"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Keywords []string  `json:"keywords"`
	Priority int       `json:"priority"`
	Active   *bool     `json:"active,omitempty"`
}

// Stats summarizes the trailing window of daily metrics.
type Stats struct {
	Days               int     `json:"days"`
	From               string  `json:"from"`
	To                 string  `json:"to"`
	KBHits             int64   `json:"kb_hits"`
	LLMCalls           int64   `json:"llm_calls"`
	HitRate            float64 `json:"hit_rate"`
	Accepted           int64   `json:"suggestions_accepted"`
	Edited             int64   `json:"suggestions_edited"`
	Rejected           int64   `json:"suggestions_rejected"`
	ImplicitApproved   int64   `json:"implicit_approved"`
	ImplicitRejected   int64   `json:"implicit_rejected"`
	ApprovalRate       float64 `json:"approval_rate"`
	AvgConfidence      float64 `json:"avg_confidence"`
	EstimatedCostSaved float64 `json:"estimated_cost_saved"`
}

// Reply asks the engine to answer a candidate message.
func (c *Client) Reply(ctx context.Context, req ReplyRequest) (*Reply, error) {
	var out Reply
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/reply", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inbound reports a candidate message for implicit feedback detection.
func (c *Client) Inbound(ctx context.Context, candidateID, message string) (*InboundResult, error) {
	var out InboundResult
	body := map[string]string{"candidate_id": candidateID, "message": message}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/inbound", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback records an admin decision on a response log.
func (c *Client) Feedback(ctx context.Context, logID uuid.UUID, req FeedbackRequest) (*ResponseLog, error) {
	var out ResponseLog
	if err := c.do(ctx, http.MethodPost, "/api/v1/logs/"+logID.String()+"/feedback", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLogs returns response logs, newest first.
func (c *Client) ListLogs(ctx context.Context, filter LogFilter) ([]ResponseLog, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.CandidateID != "" {
		q.Set("candidate_id", filter.CandidateID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/api/v1/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Logs []ResponseLog `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// UpsertFAQ creates or updates an FAQ by (category, question).
func (c *Client) UpsertFAQ(ctx context.Context, faq FAQ) (*FAQ, bool, error) {
	req := struct {
		Category string   `json:"category"`
		Question string   `json:"question"`
		Answer   string   `json:"answer"`
		Keywords []string `json:"keywords"`
		Priority int      `json:"priority"`
		Active   *bool    `json:"active,omitempty"`
	}{faq.Category, faq.Question, faq.Answer, faq.Keywords, faq.Priority, faq.Active}

	var out struct {
		Created bool `json:"created"`
		FAQ     FAQ  `json:"faq"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/faq", req, &out); err != nil {
		return nil, false, err
	}
	return &out.FAQ, out.Created, nil
}

// Stats returns learning statistics for the trailing days; zero uses the
// server default window.
func (c *Client) Stats(ctx context.Context, days int) (*Stats, error) {
	path := "/api/v1/stats"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var out Stats
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Ready checks that the service can reach its database.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ready", nil, nil)
}

// do sends one request. GETs are retried with exponential backoff on
// transport errors and 5xx responses other than 503.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	op := func() error {
		err := c.send(ctx, method, path, payload, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode < 500 || apiErr.StatusCode == http.StatusServiceUnavailable) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	if method != http.MethodGet || c.maxRetries == 0 {
		return c.send(ctx, method, path, payload, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
