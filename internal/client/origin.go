// Package client provides the outbound HTTP clients: the policy service
// client and the origin fetch client used by the forward proxy.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// OriginClient fetches responses from origin servers on behalf of proxied requests.
type OriginClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewOriginClient creates an OriginClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable origin metrics recording.
func NewOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// Bodies are relayed as the origin encoded them.
		DisableCompression: true,
	}

	maxBody := cfg.Upstream.BodyMaxBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	return &OriginClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Let the client handle redirects
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "origin_client"),
		metrics: m,
		maxBody: maxBody,
	}
}

// Fetch sends req to its origin and buffers the whole response.
// The provided context controls the lifetime of the origin request.
func (c *OriginClient) Fetch(ctx context.Context, req *model.Request) (*model.Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	hreq.Header = req.Header.Header()

	c.logger.Debug("origin request",
		"method", hreq.Method,
		"host", hreq.URL.Host,
		"path", hreq.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(hreq)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(hreq.Method)
	if c.metrics != nil {
		c.metrics.OriginDuration.WithLabelValues(method).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.OriginResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("origin body exceeds %d bytes", c.maxBody)
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     model.FieldsFromHeader(resp.Header),
		Body:       data,
	}, nil
}
