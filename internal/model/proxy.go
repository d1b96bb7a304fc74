// Package model defines the exchange abstraction and shared types for the proxy.
package model

import (
	"fmt"
	"net/url"
)

// Request is the mutable request half of an exchange.
type Request struct {
	Method string
	URL    string // absolute, including the query string
	Header Fields
	Body   []byte
}

// Query returns the URL's query parameters in wire order.
func (r *Request) Query() Fields {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil
	}
	return ParseQuery(u.RawQuery)
}

// SetQuery replaces the URL's query string with q.
func (r *Request) SetQuery(q Fields) error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("parse request url: %w", err)
	}
	u.RawQuery = q.EncodeQuery()
	u.ForceQuery = false
	r.URL = u.String()
	return nil
}

// RedactURL hides URL credentials before they reach logs, errors or status
// output. Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Response is the response half of an exchange, either fetched from the
// origin or synthesized by a policy decision.
type Response struct {
	StatusCode  int
	Header      Fields
	Body        []byte
	Synthesized bool // installed by a policy decision, not fetched
}

// ResponseSource tells where the response delivered to the client came from.
type ResponseSource string

const (
	SourceOrigin ResponseSource = "origin"
	SourcePolicy ResponseSource = "policy"
	SourceError  ResponseSource = "error"
)

// Source reports whether r came from the origin or from a policy decision.
func (r *Response) Source() ResponseSource {
	if r.Synthesized {
		return SourcePolicy
	}
	return SourceOrigin
}
