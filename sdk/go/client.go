package sdk

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

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the WellnessKit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// PutActivity creates or replaces a catalog activity.
func (c *Client) PutActivity(ctx context.Context, a Activity) (Activity, error) {
	body := map[string]any{"name": a.Name, "category": a.Category, "xp_value": a.XPValue, "archived": a.Archived}
	var out Activity
	err := c.do(ctx, http.MethodPut, "/activities/"+strconv.FormatInt(a.ID, 10), body, &out)
	return out, err
}

// GetActivity fetches one catalog activity.
func (c *Client) GetActivity(ctx context.Context, id int64) (Activity, error) {
	var out Activity
	err := c.do(ctx, http.MethodGet, "/activities/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// RecordActivity logs an activity for userID and returns the XP credited and
// any achievements it unlocked.
func (c *Client) RecordActivity(ctx context.Context, userID string, in RecordInput) (RecordResult, error) {
	if strings.TrimSpace(userID) == "" {
		return RecordResult{}, ErrEmptyUserID
	}
	var out RecordResult
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/records", in, &out)
	return out, err
}

// GetProfile fetches the progression summary of a user.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, ErrEmptyUserID
	}
	var out Profile
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// Achievements lists the catalog for a user; show is all, earned or locked.
func (c *Client) Achievements(ctx context.Context, userID, show string) ([]Achievement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	path := "/users/" + url.PathEscape(userID) + "/achievements"
	if show != "" {
		path += "?show=" + url.QueryEscape(show)
	}
	var out struct {
		Achievements []Achievement `json:"achievements"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Achievements, nil
}

// Rank maps a level to its rank name.
func (c *Client) Rank(ctx context.Context, level int64) (string, error) {
	var out struct {
		Rank string `json:"rank"`
	}
	if err := c.do(ctx, http.MethodGet, "/ranks?level="+strconv.FormatInt(level, 10), nil, &out); err != nil {
		return "", err
	}
	return out.Rank, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeNotifications connects to the WebSocket stream. A non-empty userID
// limits the stream to that user. The returned channel closes when ctx is
// done or the connection drops.
func (c *Client) SubscribeNotifications(ctx context.Context, userID string) (<-chan Notification, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan Notification, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var n Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
