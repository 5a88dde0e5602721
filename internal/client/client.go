// Package client implements the backend contract over the OrderlyFlow HTTP
// API and its WebSocket change feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/model"
)

var _ backend.Client = (*Client)(nil)

// Client talks to one OrderlyFlow backend on behalf of at most one
// signed-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
	user  *model.User
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithToken starts the client with an existing access token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is the signed-in state returned by SignUp and SignIn.
type Session struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        *model.User `json:"user"`
}

func (c *Client) SignUp(ctx context.Context, email, password, name string) (*Session, error) {
	return c.authenticate(ctx, "/auth/v1/signup", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	})
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return c.authenticate(ctx, "/auth/v1/token", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, path, nil, body, &s); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = s.AccessToken
	c.user = s.User
	c.mu.Unlock()
	return &s, nil
}

// SignOut forgets the session. Tokens are stateless, so nothing is sent.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CurrentUser returns the signed-in user, or nil when there is no session
// or the backend rejects the token.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	c.mu.RLock()
	token, user := c.token, c.user
	c.mu.RUnlock()
	if token == "" {
		return nil, nil
	}
	if user != nil {
		return user, nil
	}

	var u model.User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &u)
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.SignOut()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.user = &u
	c.mu.Unlock()
	return &u, nil
}

// UpdateProfile changes the signed-in user's name and/or avatar URL.
func (c *Client) UpdateProfile(ctx context.Context, name, avatarURL *string) (*model.User, error) {
	body := map[string]*string{}
	if name != nil {
		body["name"] = name
	}
	if avatarURL != nil {
		body["avatar_url"] = avatarURL
	}
	var u model.User
	if err := c.do(ctx, http.MethodPut, "/auth/v1/user", nil, body, &u); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = &u
	c.mu.Unlock()
	return &u, nil
}

func (c *Client) ListHomes(ctx context.Context) ([]model.Home, error) {
	var homes []model.Home
	if err := c.do(ctx, http.MethodGet, "/rest/v1/homes", nil, nil, &homes); err != nil {
		return nil, err
	}
	return homes, nil
}

func (c *Client) CreateHome(ctx context.Context, name string, address *string) (*model.Home, error) {
	var h model.Home
	body := map[string]any{"name": name, "address": address}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/homes", nil, body, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Select(ctx context.Context, table, homeID string) ([]model.Row, error) {
	var rows []model.Row
	q := url.Values{"home_id": {homeID}}
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+url.PathEscape(table), q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, row model.Row) (model.Row, error) {
	var out model.Row
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), nil, row, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, table, id string, fields model.Row) (model.Row, error) {
	var out model.Row
	path := "/rest/v1/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, nil, fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	path := "/rest/v1/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Call invokes the remote procedure name with args as its JSON body.
func (c *Client) Call(ctx context.Context, name string, args any, out any) error {
	if args == nil {
		args = struct{}{}
	}
	return c.do(ctx, http.MethodPost, "/rpc/v1/"+url.PathEscape(name), nil, args, out)
}

func (c *Client) Upload(ctx context.Context, path, contentType string, body io.Reader) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/storage/v1/object/"+strings.TrimLeft(path, "/"), nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.send(req, nil)
}

// PublicURL returns the unauthenticated URL of an uploaded object.
func (c *Client) PublicURL(path string) string {
	return c.baseURL + "/storage/v1/object/public/" + strings.TrimLeft(path, "/")
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp)
		c.logger.Debug("backend rejected request", "method", req.Method, "path", req.URL.Path, "status", apiErr.Status, "error", apiErr.Message)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) *backend.APIError {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &backend.APIError{Status: resp.StatusCode, Message: body.Error}
}
