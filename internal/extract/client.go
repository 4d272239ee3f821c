// Package extract provides the HTTP client for the field-extraction
// service. The service owns the language understanding; this client only
// mirrors its wire format with typed requests and responses.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/waybill/waybill/internal/intake"
)

// maxErrorBody bounds how much of an error response we echo into logs.
const maxErrorBody = 2048

// Client is a typed HTTP client for the extraction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOpts holds parameters for creating an extraction Client.
type ClientOpts struct {
	BaseURL string        // extraction service base URL, e.g. "http://extractor:8090"
	Timeout time.Duration // per-request timeout, defaults to 30s
	// For testing: inject a custom HTTP client (e.g. an httptest transport).
	HTTPClient *http.Client
}

// New creates an extraction Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("extract: base URL is required")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// extractRequest is the wire format for POST /v1/extract.
type extractRequest struct {
	Text        string        `json:"text"`
	Known       intake.Fields `json:"known,omitempty"`
	CurrentStep string        `json:"current_step,omitempty"`
}

// ExtractFields asks the service to pull field values out of free text.
func (c *Client) ExtractFields(ctx context.Context, text string, known intake.Fields, currentStep string) (intake.ExtractResult, error) {
	var result intake.ExtractResult
	err := c.post(ctx, "/v1/extract", extractRequest{
		Text:        text,
		Known:       known,
		CurrentStep: currentStep,
	}, &result)
	if err != nil {
		return intake.ExtractResult{}, fmt.Errorf("extract fields: %w", err)
	}
	return result, nil
}

// classifyRequest is the wire format for POST /v1/classify.
type classifyRequest struct {
	Fields intake.Fields `json:"fields"`
}

type classifyResponse struct {
	Tags []string `json:"tags"`
}

// ClassifyRequest tags a completed field set.
func (c *Client) ClassifyRequest(ctx context.Context, fields intake.Fields) ([]string, error) {
	var result classifyResponse
	err := c.post(ctx, "/v1/classify", classifyRequest{Fields: fields}, &result)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	return result.Tags, nil
}

// followUpsRequest is the wire format for POST /v1/followups.
type followUpsRequest struct {
	Fields intake.Fields `json:"fields"`
	Tags   []string      `json:"tags,omitempty"`
}

type followUpsResponse struct {
	FollowUps []intake.FollowUp `json:"follow_ups"`
}

// GenerateFollowUps produces the adaptive question sequence for a
// completed field set.
func (c *Client) GenerateFollowUps(ctx context.Context, fields intake.Fields, tags []string) ([]intake.FollowUp, error) {
	var result followUpsResponse
	err := c.post(ctx, "/v1/followups", followUpsRequest{Fields: fields, Tags: tags}, &result)
	if err != nil {
		return nil, fmt.Errorf("generate follow-ups: %w", err)
	}
	return result.FollowUps, nil
}

// interpretRequest is the wire format for POST /v1/interpret.
type interpretRequest struct {
	Text      string            `json:"text"`
	Question  intake.FollowUp   `json:"question"`
	Known     intake.Fields     `json:"known,omitempty"`
	Remaining []intake.FollowUp `json:"remaining,omitempty"`
}

// InterpretAnswer evaluates a reply to one follow-up question.
func (c *Client) InterpretAnswer(ctx context.Context, text string, question intake.FollowUp, known intake.Fields, remaining []intake.FollowUp) (intake.AnswerResult, error) {
	var result intake.AnswerResult
	err := c.post(ctx, "/v1/interpret", interpretRequest{
		Text:      text,
		Question:  question,
		Known:     known,
		Remaining: remaining,
	}, &result)
	if err != nil {
		return intake.AnswerResult{}, fmt.Errorf("interpret answer: %w", err)
	}
	return result, nil
}

// post sends a JSON request and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("extract: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extract: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extract: %s: HTTP %d: %s", path, resp.StatusCode, errorBody(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("extract: %s: decode response: %w", path, err)
	}
	return nil
}

// errorBody reads a bounded amount of an error response for diagnostics.
func errorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(unreadable body)"
	}
	return strings.TrimSpace(string(b))
}

var _ intake.Extractor = (*Client)(nil)
