package util

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDIncomingHeader(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "client id is propagated", incoming: "resp-7f3a", keep: true},
		{name: "missing id is generated"},
		{name: "blank id is generated", incoming: "   "},
		{name: "oversized id is replaced", incoming: strings.Repeat("x", 129)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodPost, "/messages/proposal/m-1/respond", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-Id", tc.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			header := rec.Header().Get("X-Request-Id")
			if header == "" || header != seen {
				t.Fatalf("header %q and context %q must match and be set", header, seen)
			}
			if tc.keep && header != tc.incoming {
				t.Fatalf("expected %q to be kept, got %q", tc.incoming, header)
			}
			if !tc.keep && header == tc.incoming {
				t.Fatalf("expected %q to be replaced", tc.incoming)
			}
		})
	}
}

func TestWithRequestIDScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info("proposal_responded")
	}))
	req := httptest.NewRequest(http.MethodPost, "/messages/proposal/m-1/respond", nil)
	req.Header.Set("X-Request-Id", "resp-log-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"request_id":"resp-log-1"`) {
		t.Fatalf("expected request_id on scoped log line, got %s", buf.String())
	}
}
