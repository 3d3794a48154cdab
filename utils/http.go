package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/proxy"

	"vidmigrate/internal"
)

// DefaultUserAgent is sent with every request
const DefaultUserAgent = "vidmigrate/1.0 (+https://github.com/vidmigrate/vidmigrate)"

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	// Timeout bounds a whole request including the body; zero leaves it to per-call contexts
	Timeout   time.Duration
	ProxyURL  string
	UserAgent string
}

// HTTPClient wraps http.Client with transport tuning, proxy support and redacted request logging.
// It does not retry: retry policy lives in the transfer engine so one counter owns the budget.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	client, _ := NewHTTPClientWithConfig(&HTTPClientConfig{})
	return client
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) (*HTTPClient, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, err
		}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:    client,
		userAgent: userAgent,
	}, nil
}

// WrapHTTPClient adopts an existing client, e.g. one produced by an oauth2 token source
func WrapHTTPClient(client *http.Client) *HTTPClient {
	return &HTTPClient{client: client, userAgent: DefaultUserAgent}
}

// Transport exposes the underlying round tripper so other clients can share proxy settings
func (c *HTTPClient) Transport() http.RoundTripper {
	return c.client.Transport
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Do sends the request once, setting the user agent and logging both directions at debug level
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	logger := internal.GetLogger()
	logger.LogHTTPRequest(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	logger.LogHTTPResponse(resp, time.Since(start))
	return resp, nil
}

// GetWithContext performs a single GET request with custom headers
func (c *HTTPClient) GetWithContext(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Do(req)
}

// GetCurrentUserAgent returns the current user agent string
func (c *HTTPClient) GetCurrentUserAgent() string {
	return c.userAgent
}

// SetUserAgent sets a custom user agent string
func (c *HTTPClient) SetUserAgent(userAgent string) {
	c.userAgent = userAgent
}

// ClassifyStatus maps an HTTP status onto the transfer error taxonomy.
// It returns nil for 2xx codes.
func ClassifyStatus(code int, operation string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return internal.NewTransientError(code, operation, fmt.Errorf("HTTP %d %s", code, http.StatusText(code)))
	case code == http.StatusUnauthorized:
		return internal.NewAuthRequiredError(fmt.Sprintf("%s: HTTP 401 Unauthorized", operation))
	case code == http.StatusNotFound:
		return internal.NewTransferError(code, fmt.Sprintf("%s: object not found", operation), internal.ErrNotFound)
	default:
		return internal.NewFatalRemoteError(code, fmt.Sprintf("%s: HTTP %d %s", operation, code, http.StatusText(code)))
	}
}

// ClassifyResponse checks resp.StatusCode and, for failures, attaches a short body excerpt
// to the error and closes the body
func ClassifyResponse(resp *http.Response, operation string) error {
	err := ClassifyStatus(resp.StatusCode, operation)
	if err == nil {
		return nil
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var te *internal.TransferError
	if !errors.As(err, &te) {
		return err
	}
	if len(excerpt) > 0 {
		te.WithContext("body", strings.TrimSpace(string(excerpt)))
	}
	if resp.Request != nil && resp.Request.URL != nil {
		te.WithURL(resp.Request.URL.String())
	}
	return err
}

// ClassifyError maps a transport-level error from http.Client.Do onto the taxonomy
func ClassifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// already classified, e.g. by an oauth2 token source inside the transport
	var te *internal.TransferError
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, context.Canceled) {
		return internal.NewCancelledError(operation, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return internal.NewTransientError(0, operation, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return internal.NewTransientError(0, operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewTransientError(0, operation, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return internal.NewTransientError(0, operation, err)
	}

	if IsNetworkError(err) {
		return internal.NewTransientError(0, operation, err)
	}

	return internal.NewFatalRemoteError(0, fmt.Sprintf("%s failed", operation)).WithCause(err)
}

// IsNetworkError checks error text for the usual recoverable network failures
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"context deadline exceeded",
		"unexpected eof",
		"http2: server sent goaway",
	}

	for _, pattern := range networkErrors {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
