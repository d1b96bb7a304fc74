package model

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Exchange is one intercepted request and its eventual response, as held by
// the proxy engine. A suspended exchange is not forwarded until Resume.
type Exchange interface {
	ID() string
	// Live reports whether the client side is still connected.
	Live() bool
	// Err returns the terminal error recorded for the exchange, if any.
	Err() error
	Request() *Request
	Response() *Response
	SetResponse(*Response)
	Suspend()
	Resume()
}

// Flow is the proxy engine's Exchange implementation. Liveness follows the
// inbound request's context.
type Flow struct {
	id  string
	ctx context.Context
	req *Request

	mu   sync.Mutex
	resp *Response
	err  error
	held bool
}

// NewFlow creates a Flow for req with a fresh identifier.
func NewFlow(ctx context.Context, req *Request) *Flow {
	return &Flow{
		id:  uuid.NewString(),
		ctx: ctx,
		req: req,
	}
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) Live() bool { return f.ctx.Err() == nil }

func (f *Flow) Request() *Request { return f.req }

func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Fail records a terminal error. Once set, hooks leave the flow alone.
func (f *Flow) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Flow) Response() *Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp
}

func (f *Flow) SetResponse(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp = resp
}

func (f *Flow) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
}

func (f *Flow) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
}

// Held reports whether the flow is suspended.
func (f *Flow) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}
