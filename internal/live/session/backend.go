package session

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

// Grant is what the token issuer hands back for one join.
type Grant struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	Role      string `json:"role"`
	SpaceID   string `json:"space_id"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	AudioOnly bool   `json:"audio_only"`
	Identity  string `json:"identity"`
}

type TokenIssuer interface {
	RequestToken(ctx context.Context, sessionID string) (*Grant, error)
}

type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) error
}

// APIError is a non-2xx answer from the spaces API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spaces api returned status %d: %s", e.Status, e.Message)
}

// APIClient talks to the spaces API as the local user.
type APIClient struct {
	baseURL    string
	token      string
	inviteCode string
	httpClient *http.Client
}

func NewAPIClient(baseURL, accessToken string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithInviteCode sets the code sent with token requests for invite-only
// spaces.
func (c *APIClient) WithInviteCode(code string) *APIClient {
	c.inviteCode = code
	return c
}

type tokenRequest struct {
	InviteCode string `json:"invite_code,omitempty"`
}

func (c *APIClient) RequestToken(ctx context.Context, sessionID string) (*Grant, error) {
	var grant Grant
	if err := c.post(ctx, sessionID, "token", tokenRequest{InviteCode: c.inviteCode}, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.URL == "" {
		return nil, fmt.Errorf("token response is missing token or url")
	}
	return &grant, nil
}

func (c *APIClient) EndSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, sessionID, "end", nil, nil)
}

func (c *APIClient) post(ctx context.Context, sessionID, action string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := fmt.Sprintf("%s/api/v1/spaces/%s/%s", c.baseURL, url.PathEscape(sessionID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
