package decision

import (
	"fmt"

	"intercept-proxy-go/internal/event"
	"intercept-proxy-go/internal/model"
)

// Apply mutates ex according to d. A RequestOverride on a response event,
// or a nil decision, is a *model.ProtocolError and leaves ex unchanged.
func Apply(d Decision, ex model.Exchange, kind event.Kind) error {
	switch d := d.(type) {
	case PassThrough:
		return nil

	case RequestOverride:
		if kind != event.KindRequest {
			return &model.ProtocolError{Reason: fmt.Sprintf("request override is not allowed on a %s event", kind)}
		}
		return applyRequest(d, ex.Request())

	case ResponseOverride:
		ex.SetResponse(&model.Response{
			StatusCode:  d.StatusCode,
			Header:      d.Headers.Clone(),
			Body:        []byte(d.Body),
			Synthesized: true,
		})
		return nil
	}
	return &model.ProtocolError{Reason: fmt.Sprintf("unsupported decision %T", d)}
}

// applyRequest replaces every field of req; nothing from the original is
// merged. An absent query keeps whatever query string the new URL carries.
func applyRequest(d RequestOverride, req *model.Request) error {
	next := &model.Request{
		Method: d.Method,
		URL:    d.URL,
		Header: d.Headers.Clone(),
		Body:   []byte(d.Body),
	}
	if d.Query != nil {
		if err := next.SetQuery(d.Query); err != nil {
			return &model.ProtocolError{Reason: "overriding_custom_request.url is invalid", Err: err}
		}
	}
	*req = *next
	return nil
}
