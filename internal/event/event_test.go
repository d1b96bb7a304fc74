package event

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"intercept-proxy-go/internal/model"
)

func newFlow(req *model.Request) *model.Flow {
	return model.NewFlow(context.Background(), req)
}

func TestEncodeRequest_GET(t *testing.T) {
	f := newFlow(&model.Request{
		Method: "GET",
		URL:    "http://api.test/foo?b=2&a=1",
		Header: model.Fields{{Name: "Accept", Value: "*/*"}},
		Body:   []byte("ignored for GET"),
	})

	p, err := EncodeRequest(f)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	if p.ID != f.ID() {
		t.Errorf("ID = %q, want %q", p.ID, f.ID())
	}
	if p.Method != "GET" {
		t.Errorf("Method = %q, want %q", p.Method, "GET")
	}
	if p.Data != "" {
		t.Errorf("Data = %q, want empty for GET", p.Data)
	}
	if len(p.Query) != 2 || p.Query[0].Name != "b" {
		t.Errorf("Query = %v, want [b=2 a=1]", p.Query)
	}
	if p.Headers.Get("Accept") != "*/*" {
		t.Errorf("Headers[Accept] = %q, want %q", p.Headers.Get("Accept"), "*/*")
	}
}

func TestEncodeRequest_WireShape(t *testing.T) {
	f := newFlow(&model.Request{
		Method: "POST",
		URL:    "http://api.test/foo?q=1",
		Header: model.Fields{{Name: "Content-Type", Value: "application/json"}},
		Body:   []byte(`{"a":1}`),
	})

	p, err := Encode(f, KindRequest)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if p.Kind() != KindRequest {
		t.Errorf("Kind() = %v, want %v", p.Kind(), KindRequest)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"id", "url", "query", "http_type", "data", "headers"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing key %q: %s", key, raw)
		}
	}
	if got["data"] != `{"a":1}` {
		t.Errorf("data = %v, want %q", got["data"], `{"a":1}`)
	}
	if got["http_type"] != "POST" {
		t.Errorf("http_type = %v, want POST", got["http_type"])
	}
	if q, _ := got["query"].(map[string]any); q["q"] != "1" {
		t.Errorf("query = %v, want {q:1}", got["query"])
	}
}

func TestEncodeRequest_BodyDecoding(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte("compressed text"))
	_ = zw.Close()

	tests := []struct {
		name    string
		header  model.Fields
		body    []byte
		want    string
		wantErr bool
	}{
		{"utf-8 default", nil, []byte("héllo"), "héllo", false},
		{"declared latin-1", model.Fields{{Name: "Content-Type", Value: "text/plain; charset=iso-8859-1"}}, []byte{'h', 0xe9}, "hé", false},
		{"invalid utf-8", nil, []byte{0xff, 0xfe, 0xfd}, "", true},
		{"unknown charset", model.Fields{{Name: "Content-Type", Value: "text/plain; charset=x-nope"}}, []byte("a"), "", true},
		{"gzip", model.Fields{{Name: "Content-Encoding", Value: "gzip"}}, gz.Bytes(), "compressed text", false},
		{"broken gzip", model.Fields{{Name: "Content-Encoding", Value: "gzip"}}, []byte("not gzip"), "", true},
		{"unknown coding", model.Fields{{Name: "Content-Encoding", Value: "br"}}, []byte("a"), "", true},
		{"empty body", nil, nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlow(&model.Request{Method: "POST", URL: "http://a.test/", Header: tt.header, Body: tt.body})
			p, err := EncodeRequest(f)
			if tt.wantErr {
				var encErr *model.EncodingError
				if !errors.As(err, &encErr) {
					t.Fatalf("EncodeRequest() error = %v, want *model.EncodingError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			if p.Data != tt.want {
				t.Errorf("Data = %q, want %q", p.Data, tt.want)
			}
		})
	}
}

func TestEncodeRequest_HeaderNormalization(t *testing.T) {
	f := newFlow(&model.Request{
		Method: "GET",
		URL:    "http://a.test/",
		Header: model.Fields{
			{Name: "X-Name", Value: string([]byte{'J', 0xfc, 'r', 'g'})},
			{Name: "X-Multi", Value: "1"},
			{Name: "X-Multi", Value: "2"},
		},
	})

	p, err := EncodeRequest(f)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if got := p.Headers.Get("X-Name"); got != "Jürg" {
		t.Errorf("X-Name = %q, want %q", got, "Jürg")
	}
	if got := p.Headers.Values("X-Multi"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("X-Multi = %v, want [1 2]", got)
	}
}

func TestEncodeResponse(t *testing.T) {
	f := newFlow(&model.Request{Method: "GET", URL: "http://api.test/foo"})
	f.SetResponse(&model.Response{
		StatusCode: 201,
		Header:     model.Fields{{Name: "Content-Type", Value: "text/plain"}},
		Body:       []byte("created"),
	})

	p, err := Encode(f, KindResponse)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	rp, ok := p.(*ResponsePayload)
	if !ok {
		t.Fatalf("Encode() = %T, want *ResponsePayload", p)
	}
	if rp.Status != 201 || rp.Content != "created" {
		t.Errorf("status/content = %d/%q, want 201/%q", rp.Status, rp.Content, "created")
	}
	if rp.Request.URL != "http://api.test/foo" || rp.Request.ID != f.ID() {
		t.Errorf("nested request = %+v", rp.Request)
	}

	raw, _ := json.Marshal(rp)
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"request", "status", "content", "headers"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing key %q: %s", key, raw)
		}
	}
}

func TestEncodeResponse_NoResponse(t *testing.T) {
	f := newFlow(&model.Request{Method: "GET", URL: "http://api.test/"})
	if _, err := EncodeResponse(f); err == nil {
		t.Fatal("EncodeResponse() expected error without response, got nil")
	}
}

func TestEncodeResponse_BadBody(t *testing.T) {
	f := newFlow(&model.Request{Method: "GET", URL: "http://api.test/"})
	f.SetResponse(&model.Response{StatusCode: 200, Body: []byte{0xc3, 0x28}})

	_, err := EncodeResponse(f)
	var encErr *model.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("EncodeResponse() error = %v, want *model.EncodingError", err)
	}
	if encErr.Part != "response body" {
		t.Errorf("Part = %q, want %q", encErr.Part, "response body")
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestEncoder_DecompressedBodyCap(t *testing.T) {
	// 1 MiB of zeros compresses to about a kilobyte.
	bomb := gzipBytes(t, bytes.Repeat([]byte{0}, 1<<20))
	gz := model.Fields{{Name: "Content-Encoding", Value: "gzip"}}

	tests := []struct {
		name    string
		enc     Encoder
		kind    Kind
		req     *model.Request
		resp    *model.Response
		wantErr bool
	}{
		{
			name:    "request body over cap",
			enc:     NewEncoder(64<<10, 0),
			kind:    KindRequest,
			req:     &model.Request{Method: "POST", URL: "http://api.test/", Header: gz, Body: bomb},
			wantErr: true,
		},
		{
			name:    "response body over cap",
			enc:     NewEncoder(0, 64<<10),
			kind:    KindResponse,
			req:     &model.Request{Method: "GET", URL: "http://api.test/"},
			resp:    &model.Response{StatusCode: 200, Header: gz, Body: bomb},
			wantErr: true,
		},
		{
			name:    "identity body over cap",
			enc:     NewEncoder(4, 0),
			kind:    KindRequest,
			req:     &model.Request{Method: "POST", URL: "http://api.test/", Body: []byte("too long")},
			wantErr: true,
		},
		{
			name: "body at cap",
			enc:  NewEncoder(1<<20, 0),
			kind: KindRequest,
			req:  &model.Request{Method: "POST", URL: "http://api.test/", Header: gz, Body: bomb},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlow(tt.req)
			if tt.resp != nil {
				f.SetResponse(tt.resp)
			}

			_, err := tt.enc.Encode(f, tt.kind)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				return
			}

			var encErr *model.EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("Encode() error = %v, want *model.EncodingError", err)
			}
			if !errors.Is(err, errBodyTooLarge) {
				t.Errorf("Encode() error = %v, want errBodyTooLarge", err)
			}
		})
	}
}

func TestNewEncoder_Defaults(t *testing.T) {
	e := NewEncoder(0, -1)
	if e.MaxRequestBody != DefaultMaxBody || e.MaxResponseBody != DefaultMaxBody {
		t.Errorf("caps = %d/%d, want %d", e.MaxRequestBody, e.MaxResponseBody, DefaultMaxBody)
	}
}

func TestKind_String(t *testing.T) {
	if KindRequest.String() != "request" || KindResponse.String() != "response" {
		t.Errorf("String() = %q/%q", KindRequest, KindResponse)
	}
}
