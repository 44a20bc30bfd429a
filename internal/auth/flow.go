// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Fixed client identity for the Copilot device flow. These values are
// an external contract with the upstream API.
const (
	ClientID  = "Iv1.b507a08c87ecfe98"
	UserAgent = "GithubCopilot/1.155.0"
	Scope     = "read:user"

	editorVersion       = "vscode/1.85.0"
	editorPluginVersion = "copilot/1.155.0"
)

// Polling policy constants.
const (
	// InitialPollDelay is the starting delay between token polls.
	InitialPollDelay = 5 * time.Second

	// SlowDownIncrement is added to the delay on a slow_down response.
	SlowDownIncrement = 5 * time.Second

	// MaxPollAttempts bounds the bulk convenience poller.
	MaxPollAttempts = 100
)

// DefaultTimeout is the timeout for all auth endpoint calls.
const DefaultTimeout = 30 * time.Second

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAuthRequired indicates no usable credential exists locally.
	ErrAuthRequired = errors.New("authentication required")

	// ErrPollingTimedOut indicates the bulk poller exceeded its safety bound.
	ErrPollingTimedOut = errors.New("device flow polling timed out")

	// ErrNoPendingFlow indicates a poll was attempted with no device code stored.
	ErrNoPendingFlow = errors.New("no pending device flow")
)

// ProviderError represents a non-2xx response from an OAuth endpoint.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Body)
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// DeviceAuthorization is the user-facing output of StartDeviceFlow.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int
	Interval        int
}

// PollState tags the outcome of a single token poll.
type PollState int

const (
	PollPending PollState = iota
	PollSlowDown
	PollExpired
	PollSuccess
	PollFailed
)

// String returns the state name for logging.
func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollSlowDown:
		return "slow_down"
	case PollExpired:
		return "expired"
	case PollSuccess:
		return "success"
	case PollFailed:
		return "error"
	default:
		return "unknown"
	}
}

// PollResult is the validated, tagged outcome of CheckTokenStatus.
type PollResult struct {
	State       PollState
	AccessToken string // set when State == PollSuccess
	Message     string // set when State == PollFailed
}

// RuntimeToken is the short-lived credential the chat API expects.
type RuntimeToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Model describes an inference model reachable through the API.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Endpoints holds the three OAuth endpoint URLs.
type Endpoints struct {
	DeviceCodeURL   string
	AccessTokenURL  string
	RuntimeTokenURL string
}

// DefaultEndpoints returns the production GitHub endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeviceCodeURL:   "https://github.com/login/device/code",
		AccessTokenURL:  "https://github.com/login/oauth/access_token",
		RuntimeTokenURL: "https://api.github.com/copilot_internal/v2/token",
	}
}

// =============================================================================
// AUTHENTICATOR
// =============================================================================

// Authenticator drives the device flow against the OAuth endpoints and
// keeps the profile store in sync with poll results.
type Authenticator struct {
	store      *Store
	endpoints  Endpoints
	httpClient *http.Client

	// Poll pacing, overridable for tests.
	initialDelay      time.Duration
	slowDownIncrement time.Duration
}

// NewAuthenticator creates an authenticator backed by the given store.
func NewAuthenticator(store *Store, endpoints Endpoints) *Authenticator {
	return &Authenticator{
		store:     store,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		initialDelay:      InitialPollDelay,
		slowDownIncrement: SlowDownIncrement,
	}
}

// WithHTTPClient overrides the HTTP client (used by tests).
func (a *Authenticator) WithHTTPClient(c *http.Client) *Authenticator {
	a.httpClient = c
	return a
}

// WithPollPacing overrides the poll delay policy (used by tests).
func (a *Authenticator) WithPollPacing(initial, increment time.Duration) *Authenticator {
	a.initialDelay = initial
	a.slowDownIncrement = increment
	return a
}

// IsAuthenticated reports whether an active profile with a token exists.
func (a *Authenticator) IsAuthenticated() bool {
	p, err := a.store.Load()
	if err != nil {
		return false
	}
	return p.IsActive()
}

// SignOut clears the credential store entirely.
func (a *Authenticator) SignOut() error {
	return a.store.Clear()
}

// =============================================================================
// DEVICE FLOW
// =============================================================================

// deviceCodeResponse is the provider's device-authorization payload.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// StartDeviceFlow registers a device code with the provider and stores
// the pending profile. The returned authorization carries the code and
// URL to show the user.
func (a *Authenticator) StartDeviceFlow(ctx context.Context) (*DeviceAuthorization, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id": ClientID,
		"scope":     Scope,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.DeviceCodeURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp)
	}

	var dc deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "malformed device code response"}
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "device code response missing fields"}
	}

	if _, err := a.store.Update(func(p *Profile) {
		p.Token = ""
		p.Status = StatusPending
		p.DeviceCode = dc.DeviceCode
		p.UserCode = dc.UserCode
		p.VerificationURI = dc.VerificationURI
	}); err != nil {
		return nil, err
	}

	return &DeviceAuthorization{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
		ExpiresIn:       dc.ExpiresIn,
		Interval:        dc.Interval,
	}, nil
}

// accessTokenResponse is the provider's token poll payload. Either
// AccessToken or Error is populated.
type accessTokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CheckTokenStatus performs a single poll of the token endpoint using
// the stored device code. On success the token is persisted, the
// profile flips to active, and the transient device-flow fields are
// cleared.
func (a *Authenticator) CheckTokenStatus(ctx context.Context) (PollResult, error) {
	profile, err := a.store.Load()
	if err != nil {
		return PollResult{}, err
	}
	if profile.IsActive() {
		return PollResult{State: PollSuccess, AccessToken: profile.Token}, nil
	}
	if profile == nil || profile.DeviceCode == "" {
		return PollResult{}, ErrNoPendingFlow
	}

	body, _ := json.Marshal(map[string]string{
		"client_id":   ClientID,
		"device_code": profile.DeviceCode,
		"grant_type":  "urn:ietf:params:oauth:grant-type:device_code",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.AccessTokenURL, bytes.NewReader(body))
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// A stale cached "authorization_pending" would wedge the flow.
	req.Header.Set("Cache-Control", "no-store")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("token poll failed: %w", err)
	}
	defer resp.Body.Close()

	var tok accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return PollResult{}, &ProviderError{Status: resp.StatusCode, Body: "malformed token response"}
	}

	if tok.AccessToken != "" {
		if _, err := a.store.Update(func(p *Profile) {
			p.Token = tok.AccessToken
			p.Status = StatusActive
			p.DeviceCode = ""
			p.UserCode = ""
			p.VerificationURI = ""
		}); err != nil {
			return PollResult{}, err
		}
		return PollResult{State: PollSuccess, AccessToken: tok.AccessToken}, nil
	}

	switch tok.Error {
	case "authorization_pending":
		return PollResult{State: PollPending}, nil
	case "slow_down":
		return PollResult{State: PollSlowDown}, nil
	case "expired_token":
		return PollResult{State: PollExpired}, nil
	default:
		msg := tok.ErrorDescription
		if msg == "" {
			msg = tok.Error
		}
		return PollResult{State: PollFailed, Message: msg}, nil
	}
}

// PollForToken polls the token endpoint until the flow resolves. The
// delay starts at InitialPollDelay and grows by SlowDownIncrement on
// each slow_down response. Cancellation is checked every iteration;
// MaxPollAttempts bounds the loop for non-interactive callers.
func (a *Authenticator) PollForToken(ctx context.Context) (string, error) {
	delay := a.initialDelay

	for attempt := 0; attempt < MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		result, err := a.CheckTokenStatus(ctx)
		if err != nil {
			return "", err
		}

		switch result.State {
		case PollSuccess:
			return result.AccessToken, nil
		case PollSlowDown:
			delay += a.slowDownIncrement
		case PollExpired:
			return "", errors.New("device code expired, restart login")
		case PollFailed:
			return "", fmt.Errorf("device flow failed: %s", result.Message)
		case PollPending:
			// retry at current delay
		}
	}

	return "", ErrPollingTimedOut
}

// =============================================================================
// RUNTIME TOKEN
// =============================================================================

// RuntimeToken exchanges the stored OAuth token for the short-lived
// token the chat API expects. The exchange happens on every call; the
// upstream rotates these tokens frequently and caching them is not
// worth the staleness handling.
//
// A 401 here means the long-lived token itself is no longer usable, so
// the stored profile is flipped to expired as a side effect.
func (a *Authenticator) RuntimeToken(ctx context.Context) (*RuntimeToken, error) {
	profile, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if !profile.IsActive() {
		return nil, ErrAuthRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoints.RuntimeTokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+profile.Token)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if _, err := a.store.Update(func(p *Profile) {
			p.Status = StatusExpired
		}); err != nil {
			log.Printf("auth: failed to mark profile expired: %v", err)
		}
		return nil, providerError(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp)
	}

	var rt RuntimeToken
	if err := json.NewDecoder(resp.Body).Decode(&rt); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "malformed runtime token response"}
	}
	if rt.Token == "" {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "runtime token response missing token"}
	}
	return &rt, nil
}

// AuthHeaders returns the full header set the chat API requires.
// Fails fast with ErrAuthRequired when no active profile exists.
func (a *Authenticator) AuthHeaders(ctx context.Context) (map[string]string, error) {
	rt, err := a.RuntimeToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization":         "Bearer " + rt.Token,
		"Editor-Version":        editorVersion,
		"Editor-Plugin-Version": editorPluginVersion,
		"User-Agent":            UserAgent,
	}, nil
}

// =============================================================================
// MODELS
// =============================================================================

// capabilityModels is the static list returned by FetchModels. The
// upstream API does not expose a reliable enumeration endpoint.
var capabilityModels = []Model{
	{ID: "gpt-4o", Name: "GPT-4o (Copilot)"},
	{ID: "claude-3.5-sonnet", Name: "Claude 3.5 Sonnet (Copilot)"},
	{ID: "gpt-4", Name: "GPT-4 (Copilot)"},
	{ID: "o1-preview", Name: "o1 Preview (Copilot)"},
}

// FetchModels verifies the runtime token is obtainable and returns the
// capability list. Model listing is best-effort: any failure yields an
// empty list rather than an error.
func (a *Authenticator) FetchModels(ctx context.Context) []Model {
	if _, err := a.RuntimeToken(ctx); err != nil {
		log.Printf("auth: model list unavailable: %v", err)
		return nil
	}
	models := make([]Model, len(capabilityModels))
	copy(models, capabilityModels)
	return models
}

// =============================================================================
// HELPERS
// =============================================================================

func providerError(resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderError{Status: resp.StatusCode, Body: string(body)}
}
