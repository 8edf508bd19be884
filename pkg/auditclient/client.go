// Package auditclient is a minimal HTTP client for collaborator services
// that report audit events to the audit-trail service.
package auditclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AdminKey   string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

func WithAdminKey(key string) Option {
	return func(c *Client) {
		c.AdminKey = key
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// RecordEventInput mirrors the record-event request body. IdentityRef
// accepts the internal UUID or the composite BFR-SIGN-ID.
type RecordEventInput struct {
	IdentityRef  string
	Category     string
	Severity     string
	ActorUserID  string
	Description  string
	Payload      map[string]any
	LegalBasis   string
	ConsentGiven bool
}

// RecordEvent appends one audit event to the identity's chain and returns
// the hash the service assigned to it.
func (c *Client) RecordEvent(ctx context.Context, input RecordEventInput) (string, error) {
	if c == nil {
		return "", fmt.Errorf("audit client is nil")
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("audit service base URL is required")
	}
	if input.IdentityRef == "" || input.Category == "" {
		return "", fmt.Errorf("identity_ref and category are required")
	}
	path := fmt.Sprintf("/v1/identities/%s/events", url.PathEscape(input.IdentityRef))

	body, err := json.Marshal(map[string]any{
		"category":      input.Category,
		"severity":      input.Severity,
		"actor_user_id": input.ActorUserID,
		"description":   input.Description,
		"payload":       input.Payload,
		"legal_basis":   input.LegalBasis,
		"consent_given": input.ConsentGiven,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	var out struct {
		EventHash string `json:"event_hash"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.EventHash, nil
}

// ChainVerification is the service's verdict over one identity's chain.
type ChainVerification struct {
	IdentityID string `json:"identity_id"`
	Valid      bool   `json:"valid"`
	BrokenAt   int    `json:"broken_at"`
	Reason     string `json:"reason"`
	MerkleRoot string `json:"merkle_root"`
	Size       int    `json:"size"`
}

// VerifyChain asks the service to walk the identity's chain.
func (c *Client) VerifyChain(ctx context.Context, identityRef string) (ChainVerification, error) {
	if c == nil {
		return ChainVerification{}, fmt.Errorf("audit client is nil")
	}
	if identityRef == "" {
		return ChainVerification{}, fmt.Errorf("identity_ref is required")
	}
	path := fmt.Sprintf("/v1/identities/%s/chain/verify", url.PathEscape(identityRef))
	var out ChainVerification
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return ChainVerification{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminKey != "" {
		req.Header.Set("X-Admin-Key", c.AdminKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed: status %d body %s", method, path, resp.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
