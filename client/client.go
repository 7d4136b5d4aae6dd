// Package client provides a Shule messaging API client along with the local
// sync machinery used by polling frontends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trezcool/shule/core/messaging"
)

// Client is a Shule messaging API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new Shule API client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request against the API.
// Server-side permission and existence failures are mapped back to the
// messaging sentinel errors so callers can branch on them.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		switch resp.StatusCode {
		case http.StatusForbidden:
			return nil, messaging.ErrPermissionDenied
		case http.StatusNotFound:
			return nil, messaging.ErrNotFound
		}
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("shule error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// LoginRequest is the request body for authentication.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response from authentication.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login authenticates and stores the token for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, _ := json.Marshal(LoginRequest{Username: username, Password: password})
	respBody, err := c.doRequest(ctx, "POST", "/v1/users/login", body)
	if err != nil {
		return err
	}

	var resp LoginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return err
	}
	c.Token = resp.Token
	return nil
}

// RefreshToken renews the stored token.
func (c *Client) RefreshToken(ctx context.Context) error {
	respBody, err := c.doRequest(ctx, "POST", "/v1/users/token-refresh", nil)
	if err != nil {
		return err
	}

	var resp LoginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return err
	}
	c.Token = resp.Token
	return nil
}

// Messages retrieves every message still visible to the authenticated user, oldest first.
func (c *Client) Messages(ctx context.Context) ([]messaging.Message, error) {
	respBody, err := c.doRequest(ctx, "GET", "/v1/messages", nil)
	if err != nil {
		return nil, err
	}

	var msgs []messaging.Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Conversations retrieves the server-side conversation summaries.
func (c *Client) Conversations(ctx context.Context) ([]messaging.Conversation, error) {
	respBody, err := c.doRequest(ctx, "GET", "/v1/messages/conversations", nil)
	if err != nil {
		return nil, err
	}

	var convs []messaging.Conversation
	if err := json.Unmarshal(respBody, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// Send sends a new message.
func (c *Client) Send(ctx context.Context, nm messaging.NewMessage) (*messaging.Message, error) {
	body, _ := json.Marshal(nm)
	respBody, err := c.doRequest(ctx, "POST", "/v1/messages", body)
	if err != nil {
		return nil, err
	}

	var msg messaging.Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks one message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "POST", "/v1/messages/"+url.PathEscape(messageID)+"/read", nil)
	return err
}

// MarkConversationRead marks every unread message from a partner as read.
func (c *Client) MarkConversationRead(ctx context.Context, partnerID string) error {
	_, err := c.doRequest(ctx, "POST", "/v1/messages/conversations/"+url.PathEscape(partnerID)+"/read", nil)
	return err
}

// DeleteMessage deletes one message with the given scope.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, scope messaging.DeleteScope) error {
	path := "/v1/messages/" + url.PathEscape(messageID) + "?scope=" + url.QueryEscape(string(scope))
	_, err := c.doRequest(ctx, "DELETE", path, nil)
	return err
}

// DeleteConversation deletes every message exchanged with a partner with the given scope.
func (c *Client) DeleteConversation(ctx context.Context, partnerID string, scope messaging.DeleteScope) error {
	path := "/v1/messages/conversations/" + url.PathEscape(partnerID) + "?scope=" + url.QueryEscape(string(scope))
	_, err := c.doRequest(ctx, "DELETE", path, nil)
	return err
}
