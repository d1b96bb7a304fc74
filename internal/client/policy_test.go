package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/decision"
	"intercept-proxy-go/internal/event"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

func policyConfig() *config.Config {
	return &config.Config{
		Policy: config.PolicyConfig{
			Mode:            config.ModeAsync,
			TimeoutSeconds:  10,
			IdleConnections: 10,
			MaxReplyBytes:   1024,
		},
	}
}

func samplePayload() *event.RequestPayload {
	return &event.RequestPayload{
		ID:      "abc",
		URL:     "http://api.test/foo",
		Method:  "GET",
		Query:   model.Fields{},
		Headers: model.Fields{{Name: "Accept", Value: "*/*"}},
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base string
		kind event.Kind
		want string
	}{
		{"http://x", event.KindRequest, "http://x/request"},
		{"http://x/", event.KindRequest, "http://x/request"},
		{"http://x", event.KindResponse, "http://x/response"},
		{"http://x/", event.KindResponse, "http://x/response"},
		{"http://x/api/v1", event.KindRequest, "http://x/api/v1/request"},
		{"http://x/api/v1//", event.KindResponse, "http://x/api/v1/response"},
		{"http://x/api?key=k", event.KindRequest, "http://x/api/request?key=k"},
		{"http://x/api/?key=k&v=2", event.KindResponse, "http://x/api/response?key=k&v=2"},
		{"http://x?key=k", event.KindRequest, "http://x/request?key=k"},
	}

	for _, tt := range tests {
		t.Run(tt.base+" "+tt.kind.String(), func(t *testing.T) {
			if got := Endpoint(tt.base, tt.kind); got != tt.want {
				t.Errorf("Endpoint(%q, %v) = %q, want %q", tt.base, tt.kind, got, tt.want)
			}
		})
	}
}

func TestPolicyClient_Consult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/request" {
			t.Errorf("path = %q, want /request", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["id"] != "abc" || body["http_type"] != "GET" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"is_original_sent_onward": true}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewPolicyClient(policyConfig(), discardLogger(), m)

	d, err := c.Consult(context.Background(), Endpoint(srv.URL, event.KindRequest), samplePayload())
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if _, ok := d.(decision.PassThrough); !ok {
		t.Errorf("Consult() = %T, want decision.PassThrough", d)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "intercept_proxy_policy_consult_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected intercept_proxy_policy_consult_duration_seconds to be recorded")
	}
}

func TestPolicyClient_Consult_Errors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantProto bool
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.NotFound(w, nil)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"is_original_sent_onward":`))
			},
			wantProto: true,
		},
		{
			name: "zero arms",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
			wantProto: true,
		},
		{
			name: "oversized reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"pad":"` + strings.Repeat("x", 2048) + `"}`))
			},
			wantProto: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewPolicyClient(policyConfig(), discardLogger(), nil)
			_, err := c.Consult(context.Background(), srv.URL+"/request", samplePayload())
			if err == nil {
				t.Fatal("Consult() expected error, got nil")
			}

			var protoErr *model.ProtocolError
			var remoteErr *model.RemoteError
			if tt.wantProto && !errors.As(err, &protoErr) {
				t.Errorf("Consult() error = %v, want *model.ProtocolError", err)
			}
			if !tt.wantProto && !errors.As(err, &remoteErr) {
				t.Errorf("Consult() error = %v, want *model.RemoteError", err)
			}
		})
	}
}

func TestPolicyClient_Consult_StatusInRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewPolicyClient(policyConfig(), discardLogger(), nil)
	_, err := c.Consult(context.Background(), srv.URL+"/request", samplePayload())

	var remoteErr *model.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Consult() error = %v, want *model.RemoteError", err)
	}
	if remoteErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", remoteErr.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestPolicyClient_Consult_Unreachable(t *testing.T) {
	c := NewPolicyClient(policyConfig(), discardLogger(), nil)

	_, err := c.Consult(context.Background(), "http://127.0.0.1:1/request", samplePayload())
	var remoteErr *model.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Consult() error = %v, want *model.RemoteError", err)
	}
}

func TestPolicyClient_Consult_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewPolicyClient(policyConfig(), discardLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Consult(ctx, srv.URL+"/request", samplePayload())
	var remoteErr *model.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Consult() error = %v, want *model.RemoteError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Consult() error = %v, want to wrap context.DeadlineExceeded", err)
	}
}
