// Package intercept ties URL filtering, event encoding, policy consultation
// and decision application together for every observed exchange.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"intercept-proxy-go/internal/client"
	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/decision"
	"intercept-proxy-go/internal/event"
	"intercept-proxy-go/internal/filter"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// Consulter asks the policy service what to do with one event.
// *client.PolicyClient and *client.BlockingClient implement it.
type Consulter interface {
	Consult(ctx context.Context, endpoint string, payload event.Payload) (decision.Decision, error)
}

// Coordinator runs the request and response hooks. It is built from a
// validated configuration and holds no per-exchange state, so one instance
// serves every exchange concurrently.
type Coordinator struct {
	entrypoint string
	filter     *filter.Pattern
	encoder    event.Encoder
	consulter  Consulter
	timeout    time.Duration
	mode       string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New builds a Coordinator. A missing entrypoint or a bad pattern yields a
// *model.ConfigurationError. Decoded bodies are capped at the server and
// upstream body limits. The metrics parameter is optional.
func New(cfg *config.Config, c Consulter, logger *slog.Logger, m *metrics.Metrics) (*Coordinator, error) {
	if cfg.Policy.EntrypointURL == "" {
		return nil, &model.ConfigurationError{Option: "policy.entrypoint_url", Err: errors.New("is required")}
	}
	p, err := filter.New(cfg.Policy.URLPattern)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &model.ConfigurationError{Option: "policy.mode", Err: errors.New("no policy client")}
	}

	timeout := cfg.Policy.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mode := cfg.Policy.Mode
	if mode == "" {
		mode = config.ModeAsync
	}

	return &Coordinator{
		entrypoint: cfg.Policy.EntrypointURL,
		filter:     p,
		encoder:    event.NewEncoder(cfg.Server.BodyMaxBytes, cfg.Upstream.BodyMaxBytes),
		consulter:  c,
		timeout:    timeout,
		mode:       mode,
		logger:     logger.With("component", "interceptor"),
		metrics:    m,
	}, nil
}

// OnRequest handles the request-observed event. Exchanges that already have
// a response, carry an error or are no longer live are left alone.
// The returned error has already been logged; the exchange is never left held.
func (c *Coordinator) OnRequest(ctx context.Context, ex model.Exchange) error {
	if ex.Response() != nil || ex.Err() != nil || !ex.Live() {
		return nil
	}
	return c.intercept(ctx, ex, event.KindRequest)
}

// OnResponse handles the response-observed event.
func (c *Coordinator) OnResponse(ctx context.Context, ex model.Exchange) error {
	if ex.Err() != nil || !ex.Live() || ex.Response() == nil {
		return nil
	}
	return c.intercept(ctx, ex, event.KindResponse)
}

func (c *Coordinator) intercept(ctx context.Context, ex model.Exchange, kind event.Kind) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy hook panic: %v", r)
		}
		c.report(ex, kind, err)
	}()

	url := ex.Request().URL
	if !c.filter.Match(url) {
		return nil
	}

	payload, err := c.encoder.Encode(ex, kind)
	if err != nil {
		return err
	}

	release := c.hold(ex)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	d, err := c.consulter.Consult(ctx, client.Endpoint(c.entrypoint, kind), payload)
	if err != nil {
		return err
	}
	if err := decision.Apply(d, ex, kind); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.PolicyDecisions.WithLabelValues(kind.String(), d.Name()).Inc()
	}
	c.logger.Debug("decision applied",
		"exchange_id", ex.ID(),
		"event", kind.String(),
		"decision", d.Name(),
	)
	return nil
}

// hold suspends ex and returns the matching release. Release is idempotent.
func (c *Coordinator) hold(ex model.Exchange) func() {
	ex.Suspend()
	if c.metrics != nil {
		c.metrics.ExchangesHeld.Inc()
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ex.Resume()
		if c.metrics != nil {
			c.metrics.ExchangesHeld.Dec()
		}
	}
}

// report logs err at a level that matches its kind and counts it.
func (c *Coordinator) report(ex model.Exchange, kind event.Kind, err error) {
	if err == nil {
		return
	}

	level, label := classify(err)
	if c.metrics != nil {
		c.metrics.PolicyErrors.WithLabelValues(kind.String(), label).Inc()
	}
	c.logger.Log(context.Background(), level, "policy hook failed, exchange passes through",
		"exchange_id", ex.ID(),
		"event", kind.String(),
		"mode", c.mode,
		"kind", label,
		"error", err,
	)
}

func classify(err error) (slog.Level, string) {
	var (
		cfgErr    *model.ConfigurationError
		encErr    *model.EncodingError
		remoteErr *model.RemoteError
		protoErr  *model.ProtocolError
	)
	switch {
	case errors.As(err, &cfgErr):
		return slog.LevelError, "configuration"
	case errors.As(err, &encErr):
		return slog.LevelWarn, "encoding"
	case errors.As(err, &remoteErr):
		return slog.LevelWarn, "remote"
	case errors.As(err, &protoErr):
		return slog.LevelError, "protocol"
	}
	return slog.LevelError, "internal"
}
