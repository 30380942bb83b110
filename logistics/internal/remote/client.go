// Package remote is the driver device's client for the logistics
// confirmation upload API.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/telhawk-systems/logistics-bridge/common/database"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
)

const (
	userAgent = "logistics-bridge-driver/1.0"
	service   = "driver"
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote api error (%d): %s", e.Status, e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	DeviceID string
	// Signer issues the bearer token. Nil sends no Authorization header.
	Signer *tokens.Signer
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// Client uploads capture records. It implements capture.Uploader and
// capture.Pinger.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	device  string
	signer  *tokens.Signer
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

var (
	_ capture.Uploader = (*Client)(nil)
	_ capture.Pinger   = (*Client)(nil)
)

func New(opts Options, logger *logging.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", opts.BaseURL)
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		base:    base,
		http:    httpClient,
		timeout: opts.Timeout,
		device:  opts.DeviceID,
		signer:  opts.Signer,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "logistics-api",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Permanent rejections do not count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Upload sends one confirmation with its attachments. Rejections other
// than 408, 429 and 5xx are returned wrapped in backoff.Permanent.
func (c *Client) Upload(ctx context.Context, rec capture.Record) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.upload(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("remote api unavailable: %w", err)
	}
	return err
}

func (c *Client) upload(ctx context.Context, rec capture.Record) error {
	body, contentType, err := EncodeRecord(rec)
	if err != nil {
		return backoff.Permanent(err)
	}

	ctx, cancel := database.RemoteContext(ctx, c.timeout)
	defer cancel()

	target := c.endpoint("api", "v1", "tasks", rec.TargetEntityID, "confirmations")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderIdempotencyKey, rec.LocalID)
	if err := c.authorize(req); err != nil {
		return backoff.Permanent(err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.DebugContext(ctx, "confirmation uploaded",
		logging.LocalID(rec.LocalID), logging.TaskID(rec.TargetEntityID), "status", resp.StatusCode)
	return nil
}

// Ping checks the API health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("healthz"), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	serr := &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	if serr.Transient() {
		return nil, serr
	}
	return nil, backoff.Permanent(serr)
}

func (c *Client) authorize(req *http.Request) error {
	if c.signer == nil {
		return nil
	}
	token, err := c.signer.Issue(service, c.device)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
