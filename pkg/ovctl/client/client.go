// Package client implements the HTTP client ovctl uses to talk to the
// oversight service.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Client wraps a resty client pointed at one oversight server.
type Client struct {
	rest *resty.Client
}

// Option mutates the client during construction.
type Option func(*Client) error

// New builds a client. WithServer is mandatory.
func New(opts ...Option) (*Client, error) {
	rest := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ovctl")

	c := &Client{rest: rest}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.rest.BaseURL == "" {
		return nil, errors.New("server is required")
	}
	return c, nil
}

// WithServer sets the base URL of the oversight service.
func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		c.rest.SetBaseURL(strings.TrimRight(server, "/"))
		return nil
	}
}

// WithToken sets the reviewer bearer token.
func WithToken(token string) Option {
	return func(c *Client) error {
		if token != "" {
			c.rest.SetAuthToken(token)
		}
		return nil
	}
}

// WithTLSConfig configures a custom CA bundle or disables verification.
func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecureSkipTLSVerify}
		if caFile != "" {
			data, err := os.ReadFile(caFile)
			if err != nil {
				return errors.Wrap(err, "reading CA file")
			}
			pool := x509.NewCertPool()
			if ok := pool.AppendCertsFromPEM(data); !ok {
				return errors.New("failed to parse CA file")
			}
			tlsConfig.RootCAs = pool
		}
		c.rest.SetTLSClientConfig(tlsConfig)
		return nil
	}
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	var apiErr apiError
	req.SetError(&apiErr)

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := strings.TrimSpace(apiErr.Error)
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if msg == "" {
			msg = resp.Status()
		}
		return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}
