// Package api is the REST client for the chat endpoints of the marketplace backend.
package api

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

	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/metrics"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/storage"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an *Error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client calls the backend. Every request carries Authorization: Bearer <token>
// with the token read from the TokenStore at call time.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     storage.TokenStore
}

// NewClient creates a client. A nil httpClient gets a 15s timeout client.
func NewClient(baseURL string, tokens storage.TokenStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
	}
}

// BaseURL returns the REST base URL the socket URL is derived from.
func (c *Client) BaseURL() string { return c.baseURL }

// errorBody covers both {"error": "..."} and {"detail": "..."} envelopes.
type errorBody struct {
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.send(ctx, op, method, path, token, body, out)
}

// send performs one request; an empty token sends no Authorization header.
func (c *Client) send(ctx context.Context, op, method, path, token string, body, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordAPIRequest(op, status, time.Since(start).Seconds())
		logger.LogDuration("api."+op, start)
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return strings.TrimSpace(string(data))
	}
	if eb.Error != "" {
		return eb.Error
	}
	switch d := eb.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

func conversationPath(id string) string {
	return "/chat/conversations/" + url.PathEscape(id)
}

// ListConversations: GET /chat/conversations.
func (c *Client) ListConversations(ctx context.Context) ([]model.ConversationWithDetails, error) {
	var out []model.ConversationWithDetails
	if err := c.do(ctx, "ListConversations", http.MethodGet, "/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation: GET /chat/conversations/{id}.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.ConversationWithDetails, error) {
	var out model.ConversationWithDetails
	if err := c.do(ctx, "GetConversation", http.MethodGet, conversationPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessages: GET /chat/conversations/{id}/messages?limit=N, most recent N in chronological order.
func (c *Client) GetMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	path := conversationPath(id) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.Message
	if err := c.do(ctx, "GetMessages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessage: POST /chat/conversations/{id}/messages.
func (c *Client) CreateMessage(ctx context.Context, id string, req model.CreateMessageRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, "CreateMessage", http.MethodPost, conversationPath(id)+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkAsRead: PATCH /chat/conversations/{id}/read.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	return c.do(ctx, "MarkAsRead", http.MethodPatch, conversationPath(id)+"/read", nil, nil)
}

// DevLogin is the dev backend's login response.
type DevLogin struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	ExpiresIn   int    `json:"expires_in"`
}

// DevLogin exchanges a user id for a token on the dev backend and stores it.
// Real deployments log in through the marketplace instead.
func (c *Client) DevLogin(ctx context.Context, userID string) (*DevLogin, error) {
	var out DevLogin
	if err := c.send(ctx, "dev_login", http.MethodPost, "/auth/dev-login", "", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("dev_login: empty token")
	}
	if err := c.tokens.SetToken(ctx, out.AccessToken); err != nil {
		return nil, fmt.Errorf("dev_login: store token: %w", err)
	}
	return &out, nil
}
