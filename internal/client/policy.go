package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/decision"
	"intercept-proxy-go/internal/event"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// PolicyClient posts decision requests to the policy service. It runs on the
// caller's goroutine, so concurrent exchanges consult concurrently.
type PolicyClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	mode       string
	maxReply   int64
}

// NewPolicyClient creates a PolicyClient. The metrics parameter is optional.
func NewPolicyClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *PolicyClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Policy.IdleConnections,
		MaxIdleConnsPerHost: cfg.Policy.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxReply := cfg.Policy.MaxReplyBytes
	if maxReply <= 0 {
		maxReply = 10 * 1024 * 1024
	}
	mode := cfg.Policy.Mode
	if mode == "" {
		mode = config.ModeAsync
	}

	return &PolicyClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Policy.Timeout(),
		},
		logger:   logger.With("component", "policy_client"),
		metrics:  m,
		mode:     mode,
		maxReply: maxReply,
	}
}

// Endpoint appends the event suffix to the entrypoint path with exactly one
// slash. A query string on the entrypoint is kept.
func Endpoint(base string, kind event.Kind) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + kind.String()
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + kind.String()
	u.RawPath = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Consult posts payload to endpoint and parses the reply.
// Transport failures, timeouts and non-2xx statuses are *model.RemoteError;
// unusable replies are *model.ProtocolError.
func (c *PolicyClient) Consult(ctx context.Context, endpoint string, payload event.Payload) (decision.Decision, error) {
	v, err := json.Marshal(payload)
	if err != nil {
		return nil, &model.EncodingError{Part: "decision request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(v))
	if err != nil {
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("policy request",
		"endpoint", model.RedactURL(endpoint),
		"event", payload.Kind().String(),
		"bytes", len(v),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.PolicyDuration.WithLabelValues(payload.Kind().String(), c.mode).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxReply+1))
	if err != nil {
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: fmt.Errorf("read reply: %w", err)}
	}
	if int64(len(data)) > c.maxReply {
		return nil, &model.ProtocolError{Reason: fmt.Sprintf("reply exceeds %d bytes", c.maxReply)}
	}

	return decision.Parse(data)
}
