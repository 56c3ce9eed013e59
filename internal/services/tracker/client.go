package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const maxRetries = 3

// Options configures a tracker client for one account
type Options struct {
	SiteURL      string
	Cookie       string
	Passkey      string
	UserAgent    string
	Timeout      time.Duration
	RequestDelay time.Duration
}

// StatusError is returned for non-retryable HTTP failures
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker returned status %d for %s", e.Code, e.URL)
}

// Client scrapes a NexusPHP site with an authenticated cookie
// Requests from one client are spaced by RequestDelay.
type Client struct {
	baseURL    *url.URL
	cookie     string
	passkey    string
	userAgent  string
	httpClient *http.Client
	logger     *logrus.Logger

	delay       time.Duration
	mu          sync.Mutex
	nextRequest time.Time

	newBackOff func() backoff.BackOff
}

// NewClient creates a tracker client
func NewClient(opts Options, logger *logrus.Logger) (*Client, error) {
	if opts.SiteURL == "" {
		return nil, fmt.Errorf("tracker site URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.SiteURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid tracker URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   base,
		cookie:    opts.Cookie,
		passkey:   opts.Passkey,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
		delay:  opts.RequestDelay,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}, nil
}

// SiteURL returns the normalized base URL without trailing slash
func (c *Client) SiteURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// wait blocks until this client may issue its next request
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	at := c.nextRequest
	if at.Before(now) {
		at = now
	}
	c.nextRequest = at.Add(c.delay)
	c.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return c.baseURL.ResolveReference(ref).String()
}

type response struct {
	body        []byte
	contentType string
}

// get fetches a page, retrying transport failures, 429 and 5xx with backoff
func (c *Client) get(ctx context.Context, path string, query url.Values) (*response, error) {
	target := c.resolve(path, query)
	var out *response

	op := func() error {
		if err := c.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.send(ctx, http.MethodGet, target, nil, "")
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		out = resp
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url":   target,
			"retry": next,
		}).Warn("Tracker request failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// post submits a form once; state changing calls are never retried
func (c *Client) post(ctx context.Context, path string, form url.Values) (*response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	target := c.resolve(path, nil)
	resp, err := c.send(ctx, http.MethodPost, target, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return resp, nil
}

// send performs one HTTP round trip
// Errors wrapped with backoff.Permanent are not worth retrying.
func (c *Client) send(ctx context.Context, method, target string, body io.Reader, contentType string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Referer", c.baseURL.String())

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    target,
	}).Debug("Tracker request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, URL: target})
	}
	if resp.Request != nil && isLoginPath(resp.Request.URL.Path) {
		return nil, backoff.Permanent(ErrSessionExpired)
	}

	return &response{body: data, contentType: resp.Header.Get("Content-Type")}, nil
}

func isLoginPath(path string) bool {
	return strings.HasSuffix(path, "/login.php")
}

func (c *Client) document(ctx context.Context, path string, query url.Values) (*goquery.Document, error) {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	// Some installs render the login form at the requested URL instead of redirecting
	if doc.Find(`form[action="takelogin.php"]`).Length() > 0 {
		return nil, ErrSessionExpired
	}
	return doc, nil
}
