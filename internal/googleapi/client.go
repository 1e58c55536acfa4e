// Package googleapi calls the Google OAuth and Cloud Code endpoints used to
// check account tokens and read or refresh model quota.
package googleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/and161185/agent-keeper/internal/errs"
)

const (
	DefaultUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultTokenURL     = "https://oauth2.googleapis.com/token"
	DefaultCloudCodeURL = "https://daily-cloudcode-pa.sandbox.googleapis.com"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Config selects endpoints, OAuth client credentials and request limits.
type Config struct {
	UserInfoURL  string
	TokenURL     string
	CloudCodeURL string

	ClientID     string
	ClientSecret string

	// Timeout bounds one attempt. RetryMax is the number of extra attempts
	// for requests that only read.
	Timeout  time.Duration
	RetryMax int
}

// DefaultConfig returns the production endpoints without OAuth credentials.
func DefaultConfig() Config {
	return Config{
		UserInfoURL:  DefaultUserInfoURL,
		TokenURL:     DefaultTokenURL,
		CloudCodeURL: DefaultCloudCodeURL,
		Timeout:      30 * time.Second,
		RetryMax:     2,
	}
}

// Client talks to the Google APIs. It is safe for concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	plain *http.Client
	oauth *oauth2.Config
	ua    string
	log   *zap.Logger
}

// New builds a Client. Token refresh is disabled until both client id and
// secret are set.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryLogger{log.Sugar()}
	rc.HTTPClient.Timeout = cfg.Timeout

	plain := cleanhttp.DefaultPooledClient()
	plain.Timeout = cfg.Timeout

	c := &Client{
		cfg:   cfg,
		http:  rc.StandardClient(),
		plain: plain,
		ua:    "antigravity/" + runtime.GOOS + "/" + runtime.GOARCH,
		log:   log,
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		c.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}
	}
	return c
}

// StatusError is a non-2xx answer. It wraps errs.ErrUpstream.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return errs.ErrUpstream }

// do sends body as JSON with the bearer token and decodes the answer into out.
func (c *Client) do(ctx context.Context, hc *http.Client, method, url, endpoint, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.ua)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", errs.ErrUpstream, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.log.Debug("google api call",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", errs.ErrUpstream, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: truncate(raw, 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", errs.ErrUpstream, endpoint, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// retryLogger routes retryablehttp messages to zap. A failed attempt that
// will be retried is only a warning.
type retryLogger struct{ s *zap.SugaredLogger }

func (l retryLogger) Error(msg string, kv ...any) { l.s.Warnw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
