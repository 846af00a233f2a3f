package kya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to one kya kernel on behalf of one agent identity.
// Safe for concurrent use.
type Client struct {
	baseURL string
	id      Identity
	http    *http.Client
}

// New creates a Client for the given kernel and identity.
func New(baseURL string, id Identity, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("kya: base URL is required")
	}
	if id.WorkspaceID == "" || id.AgentID == "" {
		return nil, fmt.Errorf("kya: identity needs workspace and agent ids")
	}
	cfg := clientConfig{timeout: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		id:      id,
		http:    hc,
	}, nil
}

// RequestCapability asks the kernel to mint a capability for this
// agent. The kernel clamps the requested TTL to its configured bounds.
func (c *Client) RequestCapability(ctx context.Context, req CapabilityRequest) (*Grant, error) {
	body := map[string]any{
		"workspace_id":     c.id.WorkspaceID,
		"agent_id":         c.id.AgentID,
		"action":           req.Action,
		"target_service":   req.TargetService,
		"requested_scopes": req.Scopes,
		"requested_limits": req.Limits,
		"ttl_minutes":      req.TTLMinutes,
	}
	var grant Grant
	if err := c.post(ctx, "/capabilities/request", body, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// VerifyAction signs the action envelope under the grant and submits it
// for verification. A DENY comes back as a Decision, not an error.
func (c *Client) VerifyAction(ctx context.Context, grant *Grant, action Action) (*Decision, error) {
	if grant == nil {
		return nil, fmt.Errorf("kya: grant is required")
	}
	sig, err := SignEnvelope(c.id.PrivateKey, c.id.WorkspaceID, c.id.AgentID,
		action.ActionType, action.TargetService, action.Payload, grant.JTI)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"workspace_id":     c.id.WorkspaceID,
		"agent_id":         c.id.AgentID,
		"action_type":      action.ActionType,
		"target_service":   action.TargetService,
		"payload":          action.Payload,
		"signature":        sig,
		"capability_token": grant.Token,
	}
	var decision Decision
	if err := c.post(ctx, "/verify", body, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// RevokeCapability invalidates a grant before its natural expiry.
func (c *Client) RevokeCapability(ctx context.Context, jti, reason string) error {
	body := map[string]any{
		"workspace_id": c.id.WorkspaceID,
		"reason":       reason,
	}
	return c.post(ctx, "/capabilities/"+jti+"/revoke", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kya: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("kya: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workspace-Id", c.id.WorkspaceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kya: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("kya: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN"}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
