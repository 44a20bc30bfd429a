// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Configuration constants for the Copilot chat API.
const (
	// DefaultBaseURL is the chat API base; completions live under
	// /chat/completions.
	DefaultBaseURL = "https://api.githubcopilot.com"

	// DefaultModel is used when a request names no model.
	DefaultModel = "gpt-4o"

	// DefaultTimeout bounds one-shot (non-streaming) requests.
	DefaultTimeout = 60 * time.Second

	// chatTemperature and chatMaxTokens are the fixed sampling
	// parameters for conversation turns.
	chatTemperature = 0.6
	chatMaxTokens   = 4000

	// titleTemperature and titleMaxTokens are the fixed sampling
	// parameters for title generation.
	titleTemperature = 0.3
	titleMaxTokens   = 20
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedJSONClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamClient has no timeout; stream lifetime is
	// controlled by the request context.
	sharedStreamClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnauthorized indicates the upstream rejected the credential; the
// caller should send the user back through the device flow.
var ErrUnauthorized = errors.New("unauthorized, login with GitHub Copilot required")

// UpstreamError is any other non-2xx chat API response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chat API error: %d %s", e.Status, e.Body)
}

// =============================================================================
// TYPES
// =============================================================================

// Message is one turn of conversation history on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest is the chat completions request body.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// completionResponse is the non-streaming response body.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat completions endpoint. One-shot requests go
// through a pooled client with a timeout; streams go through a pooled
// client without one.
type Client struct {
	url          string
	jsonClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the given API base URL; "" means the
// production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		url:          baseURL + "/chat/completions",
		jsonClient:   sharedJSONClient,
		streamClient: sharedStreamClient,
	}
}

// WithHTTPClients overrides both transports. Returns the client for
// chaining.
func (c *Client) WithHTTPClients(jsonClient, streamClient *http.Client) *Client {
	c.jsonClient = jsonClient
	c.streamClient = streamClient
	return c
}

// Stream opens a streaming completion. The returned body is live SSE;
// the caller owns closing it. Non-2xx statuses are mapped to
// ErrUnauthorized (401) or UpstreamError before any body is returned.
func (c *Client) Stream(ctx context.Context, headers map[string]string, payload completionRequest) (io.ReadCloser, error) {
	payload.Stream = true

	resp, err := c.post(ctx, c.streamClient, headers, payload)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete runs a non-streaming completion and returns the first
// choice's message content.
func (c *Client) Complete(ctx context.Context, headers map[string]string, payload completionRequest) (string, error) {
	payload.Stream = false

	resp, err := c.post(ctx, c.jsonClient, headers, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, headers map[string]string, payload completionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// classifyStatus maps a non-2xx response to a typed error, consuming
// and closing the body when it does.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
}
