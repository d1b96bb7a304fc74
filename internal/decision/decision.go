// Package decision parses policy replies and applies them to exchanges.
package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"intercept-proxy-go/internal/model"
)

// Decision is the policy verdict for one exchange. Exactly one of
// PassThrough, RequestOverride or ResponseOverride.
type Decision interface {
	isDecision()
	// Name is a stable label for logs and metrics.
	Name() string
}

// PassThrough leaves the exchange untouched.
type PassThrough struct{}

// RequestOverride replaces the request before it is sent onward.
type RequestOverride struct {
	URL     string
	Query   model.Fields
	Method  string
	Body    string
	Headers model.Fields
}

// ResponseOverride installs a synthetic response.
type ResponseOverride struct {
	StatusCode int
	Body       string
	Headers    model.Fields
}

func (PassThrough) isDecision()      {}
func (RequestOverride) isDecision()  {}
func (ResponseOverride) isDecision() {}

func (PassThrough) Name() string      { return "pass_through" }
func (RequestOverride) Name() string  { return "request_override" }
func (ResponseOverride) Name() string { return "response_override" }

type reply struct {
	SentOnward *bool          `json:"is_original_sent_onward"`
	Request    *requestReply  `json:"overriding_custom_request"`
	Response   *responseReply `json:"overriding_custom_response"`
}

type requestReply struct {
	URL     string       `json:"url"`
	Query   model.Fields `json:"query"`
	Method  string       `json:"http_type"`
	Data    string       `json:"data"`
	Headers model.Fields `json:"headers"`
}

type responseReply struct {
	Status  int          `json:"status"`
	Body    string       `json:"body"`
	Headers model.Fields `json:"headers"`
}

var errTrailingData = errors.New("trailing data after reply object")

// Parse decodes a policy reply. Replies with zero or several populated arms
// are rejected rather than resolved by precedence. A false
// is_original_sent_onward counts as unpopulated.
func Parse(data []byte) (Decision, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var r reply
	if err := dec.Decode(&r); err != nil {
		return nil, &model.ProtocolError{Reason: "malformed reply", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &model.ProtocolError{Reason: "malformed reply", Err: errTrailingData}
	}

	var arms []Decision
	if r.SentOnward != nil && *r.SentOnward {
		arms = append(arms, PassThrough{})
	}
	if r.Request != nil {
		d, err := r.Request.decision()
		if err != nil {
			return nil, err
		}
		arms = append(arms, d)
	}
	if r.Response != nil {
		d, err := r.Response.decision()
		if err != nil {
			return nil, err
		}
		arms = append(arms, d)
	}

	if len(arms) != 1 {
		return nil, &model.ProtocolError{Reason: fmt.Sprintf("reply must populate exactly one decision, got %d", len(arms))}
	}
	return arms[0], nil
}

func (r *requestReply) decision() (Decision, error) {
	if r.Method == "" {
		return nil, &model.ProtocolError{Reason: "overriding_custom_request.http_type is empty"}
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, &model.ProtocolError{Reason: "overriding_custom_request.url is invalid", Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &model.ProtocolError{Reason: fmt.Sprintf("overriding_custom_request.url %q is not absolute", r.URL)}
	}
	return RequestOverride{
		URL:     r.URL,
		Query:   r.Query,
		Method:  r.Method,
		Body:    r.Data,
		Headers: r.Headers,
	}, nil
}

// decision rejects 1xx statuses: net/http sends them as interim responses
// and the client would see an implicit 200 carrying the override body.
func (r *responseReply) decision() (Decision, error) {
	if r.Status < 200 || r.Status > 999 {
		return nil, &model.ProtocolError{Reason: fmt.Sprintf("overriding_custom_response.status %d is out of range", r.Status)}
	}
	return ResponseOverride{
		StatusCode: r.Status,
		Body:       r.Body,
		Headers:    r.Headers,
	}, nil
}
