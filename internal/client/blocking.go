package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"intercept-proxy-go/internal/decision"
	"intercept-proxy-go/internal/event"
	"intercept-proxy-go/internal/model"
)

// ErrClientStopped is returned for consultations submitted after Stop.
var ErrClientStopped = errors.New("blocking policy client stopped")

type consultJob struct {
	ctx      context.Context
	endpoint string
	payload  event.Payload
	result   chan<- consultResult
}

type consultResult struct {
	decision decision.Decision
	err      error
}

// BlockingClient runs every consultation on one dedicated worker goroutine,
// one at a time. Each caller waits for its own result; other goroutines,
// including the HTTP server's, are never blocked by it.
type BlockingClient struct {
	next   *PolicyClient
	logger *slog.Logger

	jobs chan consultJob
	stop chan struct{}
	done chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBlockingClient wraps next. Call Start before the first Consult.
func NewBlockingClient(next *PolicyClient, logger *slog.Logger) *BlockingClient {
	return &BlockingClient{
		next:   next,
		logger: logger.With("component", "blocking_policy_client"),
		jobs:   make(chan consultJob),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker.
func (b *BlockingClient) Start() {
	b.startOnce.Do(func() {
		b.started.Store(true)
		go b.run()
	})
}

// Stop terminates the worker after the consultation in progress, if any.
func (b *BlockingClient) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	if b.started.Load() {
		<-b.done
	}
}

func (b *BlockingClient) run() {
	defer close(b.done)
	b.logger.Debug("worker started")
	for {
		select {
		case <-b.stop:
			b.logger.Debug("worker stopped")
			return
		case job := <-b.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- consultResult{err: &model.RemoteError{Endpoint: model.RedactURL(job.endpoint), Err: err}}
				continue
			}
			d, err := b.next.Consult(job.ctx, job.endpoint, job.payload)
			job.result <- consultResult{decision: d, err: err}
		}
	}
}

// Consult hands the call to the worker and waits for it, or for ctx.
func (b *BlockingClient) Consult(ctx context.Context, endpoint string, payload event.Payload) (decision.Decision, error) {
	result := make(chan consultResult, 1)
	job := consultJob{ctx: ctx, endpoint: endpoint, payload: payload, result: result}

	select {
	case b.jobs <- job:
	case <-ctx.Done():
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: ctx.Err()}
	case <-b.stop:
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: ErrClientStopped}
	}

	select {
	case r := <-result:
		return r.decision, r.err
	case <-ctx.Done():
		return nil, &model.RemoteError{Endpoint: model.RedactURL(endpoint), Err: ctx.Err()}
	}
}
