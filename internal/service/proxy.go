// Package service implements the forward proxy engine that drives the
// interception hooks around each origin fetch.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"intercept-proxy-go/internal/client"
	"intercept-proxy-go/internal/model"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Interceptor observes each exchange before the origin fetch and after the
// response is known. Implementations must release a suspended exchange
// before returning.
type Interceptor interface {
	OnRequest(ctx context.Context, ex model.Exchange) error
	OnResponse(ctx context.Context, ex model.Exchange) error
}

// ProxyService forwards proxied requests to their origins.
type ProxyService struct {
	origin *client.OriginClient
	hooks  Interceptor
	logger *slog.Logger
}

// NewProxyService creates a ProxyService. hooks may be nil, in which case
// traffic is relayed unchanged.
func NewProxyService(origin *client.OriginClient, hooks Interceptor, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		origin: origin,
		hooks:  hooks,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward runs one exchange: the request hook, the origin fetch unless a
// response is already installed, then the response hook.
// Hook failures are not returned; the exchange proceeds as if no hook ran.
func (s *ProxyService) Forward(ctx context.Context, flow *model.Flow) (*model.Response, error) {
	if s.hooks != nil {
		_ = s.hooks.OnRequest(ctx, flow)
		s.checkReleased(flow, "request")
	}

	if flow.Response() == nil {
		req := flow.Request()
		if err := validateTarget(req.URL); err != nil {
			flow.Fail(err)
			return nil, err
		}
		out := req.Clone()
		out.Header = stripHopByHop(out.Header)

		s.logger.Debug("forwarding request",
			"exchange_id", flow.ID(),
			"method", out.Method,
			"url", model.RedactURL(out.URL),
		)

		resp, err := s.origin.Fetch(ctx, out)
		if err != nil {
			flow.Fail(err)
			return nil, fmt.Errorf("forward to origin: %w", err)
		}
		flow.SetResponse(resp)
	}

	if s.hooks != nil {
		_ = s.hooks.OnResponse(ctx, flow)
		s.checkReleased(flow, "response")
	}

	resp := flow.Response()
	return &model.Response{
		StatusCode:  resp.StatusCode,
		Header:      stripHopByHop(resp.Header),
		Body:        resp.Body,
		Synthesized: resp.Synthesized,
	}, nil
}

func (s *ProxyService) checkReleased(flow *model.Flow, event string) {
	if flow.Held() {
		s.logger.Error("exchange still held after hook, releasing",
			"exchange_id", flow.ID(),
			"event", event,
		)
		flow.Resume()
	}
}

// validateTarget rejects request targets the origin client cannot reach.
func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("target url %q has no host", model.RedactURL(raw))
	}
	return nil
}

// stripHopByHop returns a copy of h without hop-by-hop headers, including
// any listed in Connection.
func stripHopByHop(h model.Fields) model.Fields {
	out := h.Clone()
	for _, kv := range h {
		if !strings.EqualFold(kv.Name, "Connection") {
			continue
		}
		for _, name := range strings.Split(kv.Value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.DelFold(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		out.DelFold(name)
	}
	return out
}
