// Package mpesa talks to the Daraja API: OAuth token exchange, STK push
// initiation and business payouts. The client is stateless apart from the
// cached bearer token.
package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

const (
	tokenPath  = "/oauth/v1/generate"
	stkPath    = "/mpesa/stkpush/v1/processrequest"
	b2cPath    = "/mpesa/b2c/v3/paymentrequest"
	b2bPath    = "/mpesa/b2b/v1/paymentrequest"
	okResponse = "0"

	// refresh a little before the gateway expires the token
	tokenSkew = 60 * time.Second
)

var eat = time.FixedZone("EAT", 3*60*60)

var ErrUnavailable = errors.New("mpesa: gateway unavailable")

// RejectedError is an explicit refusal by the gateway; retrying the same
// request will not help.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("mpesa: rejected (%s): %s", e.Code, e.Message)
}

type Config struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	B2CShortcode       string
	InitiatorName      string
	SecurityCredential string
	Timeout            time.Duration
}

type Client struct {
	cfg  Config
	http *resty.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	sf        singleflight.Group

	now func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Token returns a cached bearer token, exchanging credentials when the
// cached one is missing or about to expire. Concurrent refreshes collapse
// into one request.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}

	v, err, _ := c.sf.Do("token", func() (any, error) {
		// a refresh may have landed between the check above and Do
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret).
		SetQueryParam("grant_type", "client_credentials").
		SetResult(&out).
		Get(tokenPath)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return "", fmt.Errorf("%w: token request: status %d", ErrUnavailable, resp.StatusCode())
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn.String()); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()
	return out.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// post sends body with a bearer token and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	tok, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		c.invalidateToken()
		return fmt.Errorf("%w: %s: token rejected", ErrUnavailable, path)
	case resp.StatusCode() >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode())
	case resp.IsError():
		return &RejectedError{Code: apiErr.ErrorCode, Message: apiErr.ErrorMessage}
	}
	return nil
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format("20060102150405")
}

func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + ts))
}
