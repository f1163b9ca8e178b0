package newsblur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://www.newsblur.com/"
	// SessionCookieName is the cookie NewsBlur uses for the login session.
	SessionCookieName = "newsblur_sessionid"

	loginPath = "api/login"
)

type ClientConfig struct {
	BaseURL   string
	Username  string
	Password  string
	SessionID string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient replaces the default transport, mostly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnSession is called whenever a login yields a new session ID.
	OnSession func(sessionID string)
}

// Client calls the NewsBlur web API. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	username  string
	password  string
	logger    *slog.Logger
	onSession func(string)

	mu        sync.Mutex
	sessionID string
	suspended bool
	inflight  map[uint64]context.CancelFunc
	nextReq   uint64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: base url %q: %v", ErrInvalidParameter, cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", ErrInvalidParameter, cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "feedsync/0.1"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:      base,
		http:      httpClient,
		userAgent: userAgent,
		username:  cfg.Username,
		password:  cfg.Password,
		logger:    logger,
		onSession: cfg.OnSession,
		sessionID: cfg.SessionID,
		inflight:  make(map[uint64]context.CancelFunc),
	}, nil
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	cb := c.onSession
	c.mu.Unlock()
	if cb != nil {
		cb(id)
	}
}

// Suspend cancels every in-flight request and rejects new ones until Resume.
func (c *Client) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
	for id, cancel := range c.inflight {
		cancel()
		delete(c.inflight, id)
	}
}

func (c *Client) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
}

func (c *Client) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

func (c *Client) track(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended {
		return nil, nil, ErrSuspended
	}
	ctx, cancel := context.WithCancel(ctx)
	c.nextReq++
	id := c.nextReq
	c.inflight[id] = cancel
	return ctx, func() {
		cancel()
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}, nil
}

// Login posts the configured credentials and stores the session cookie.
func (c *Client) Login(ctx context.Context) error {
	if strings.TrimSpace(c.username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidParameter)
	}
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	var payload loginResponse
	resp, err := c.send(ctx, http.MethodPost, loginPath, nil, form, &payload, false)
	if err != nil {
		return err
	}
	if payload.Code == -1 {
		if len(payload.Errors.Username) > 0 {
			return &GeneralError{Message: payload.Errors.Username[0]}
		}
		if len(payload.Errors.Others) > 0 {
			return &GeneralError{Message: payload.Errors.Others[0]}
		}
		return ErrUnknown
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName && cookie.Value != "" {
			c.setSession(cookie.Value)
			c.logger.Debug("newsblur login succeeded", "user", c.username)
			return nil
		}
	}
	return &GeneralError{Message: "Failed to retrieve session"}
}

func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.send(ctx, http.MethodGet, "api/logout", nil, nil, nil, true); err != nil {
		return err
	}
	c.setSession("")
	return nil
}

// call performs one API request, logging in again and retrying once when the
// session is rejected.
func (c *Client) call(ctx context.Context, method, path string, query, form url.Values, out any) (*http.Response, error) {
	if c.SessionID() == "" && c.password != "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := c.send(ctx, method, path, query, form, out, true)
	if !errors.Is(err, ErrUnauthorized) || c.password == "" {
		return resp, err
	}
	c.logger.Info("newsblur session rejected, logging in again", "path", path)
	if loginErr := c.Login(ctx); loginErr != nil {
		return nil, loginErr
	}
	return c.send(ctx, method, path, query, form, out, true)
}

func (c *Client) send(ctx context.Context, method, path string, query, form url.Values, out any, withSession bool) (*http.Response, error) {
	ctx, done, err := c.track(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	target := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if withSession {
		if sid := c.SessionID(); sid != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sid})
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.Suspended() {
			return nil, ErrSuspended
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, &StatusError{Code: resp.StatusCode, Path: path}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return resp, nil
		}
		if c.Suspended() {
			return nil, ErrSuspended
		}
		return resp, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp, nil
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// responseDate returns the server's Date header, or nil when absent.
func responseDate(resp *http.Response) *time.Time {
	if resp == nil {
		return nil
	}
	t, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
