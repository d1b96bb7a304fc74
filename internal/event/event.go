// Package event turns an observed exchange into the JSON payload sent to
// the policy service.
package event

import (
	"errors"

	"intercept-proxy-go/internal/model"
)

// Kind identifies which hook observed the exchange.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// String returns the endpoint suffix for the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// Payload is a decision request ready to be marshalled.
type Payload interface {
	Kind() Kind
}

// RequestPayload is posted to {entrypoint}/request.
type RequestPayload struct {
	ID      string       `json:"id"`
	URL     string       `json:"url"`
	Query   model.Fields `json:"query"`
	Method  string       `json:"http_type"`
	Data    string       `json:"data"`
	Headers model.Fields `json:"headers"`
}

func (*RequestPayload) Kind() Kind { return KindRequest }

// ResponsePayload is posted to {entrypoint}/response.
type ResponsePayload struct {
	Request RequestPayload `json:"request"`
	Status  int            `json:"status"`
	Content string         `json:"content"`
	Headers model.Fields   `json:"headers"`
}

func (*ResponsePayload) Kind() Kind { return KindResponse }

var errNoResponse = errors.New("exchange has no response")

// DefaultMaxBody caps a decoded body when no limit is configured.
const DefaultMaxBody int64 = 10 << 20

// Encoder builds payloads. Bodies are decompressed and decoded before they
// are sent, so each direction carries its own cap on the decoded size.
type Encoder struct {
	MaxRequestBody  int64
	MaxResponseBody int64
}

// NewEncoder returns an Encoder with the given caps. A cap of zero or less
// falls back to DefaultMaxBody.
func NewEncoder(maxRequestBody, maxResponseBody int64) Encoder {
	return Encoder{
		MaxRequestBody:  limitOrDefault(maxRequestBody),
		MaxResponseBody: limitOrDefault(maxResponseBody),
	}
}

func limitOrDefault(n int64) int64 {
	if n <= 0 {
		return DefaultMaxBody
	}
	return n
}

// Encode builds the payload for kind with default body caps.
func Encode(ex model.Exchange, kind Kind) (Payload, error) {
	return NewEncoder(0, 0).Encode(ex, kind)
}

// EncodeRequest builds the request-event payload with default body caps.
func EncodeRequest(ex model.Exchange) (*RequestPayload, error) {
	return NewEncoder(0, 0).EncodeRequest(ex)
}

// EncodeResponse builds the response-event payload with default body caps.
func EncodeResponse(ex model.Exchange) (*ResponsePayload, error) {
	return NewEncoder(0, 0).EncodeResponse(ex)
}

// Encode builds the payload for kind. It has no side effects on ex.
func (e Encoder) Encode(ex model.Exchange, kind Kind) (Payload, error) {
	if kind == KindResponse {
		return e.EncodeResponse(ex)
	}
	return e.EncodeRequest(ex)
}

// EncodeRequest builds the request-event payload.
func (e Encoder) EncodeRequest(ex model.Exchange) (*RequestPayload, error) {
	req := ex.Request()

	var data string
	if carriesBody(req.Method) {
		text, err := decodeBody("request body", req.Body, req.Header, limitOrDefault(e.MaxRequestBody))
		if err != nil {
			return nil, err
		}
		data = text
	}

	return &RequestPayload{
		ID:      ex.ID(),
		URL:     req.URL,
		Query:   normalizeFields(req.Query()),
		Method:  req.Method,
		Data:    data,
		Headers: normalizeFields(req.Header),
	}, nil
}

// EncodeResponse builds the response-event payload, nesting the request.
func (e Encoder) EncodeResponse(ex model.Exchange) (*ResponsePayload, error) {
	resp := ex.Response()
	if resp == nil {
		return nil, errNoResponse
	}

	rp, err := e.EncodeRequest(ex)
	if err != nil {
		return nil, err
	}

	content, err := decodeBody("response body", resp.Body, resp.Header, limitOrDefault(e.MaxResponseBody))
	if err != nil {
		return nil, err
	}

	return &ResponsePayload{
		Request: *rp,
		Status:  resp.StatusCode,
		Content: content,
		Headers: normalizeFields(resp.Header),
	}, nil
}

// carriesBody reports whether the method's body is sent to the policy service.
func carriesBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
