package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewAddsService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Service: "watchparty"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "watchparty" || line["message"] != "shown" {
		t.Fatalf("log line = %v", line)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug"}, &buf)

	var sawLogger bool
	h := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = zerolog.Ctx(r.Context()).GetLevel() == zerolog.DebugLevel
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/active", nil)
	req.Header.Set(requestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !sawLogger {
		t.Errorf("handler context carries no request logger")
	}
	if rec.Header().Get(requestIDHeader) != "req-1" {
		t.Errorf("request id header = %q", rec.Header().Get(requestIDHeader))
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output %q: %v", buf.String(), err)
	}
	if line["status"] != float64(http.StatusTeapot) || line["request_id"] != "req-1" || line["path"] != "/api/rooms/active" {
		t.Fatalf("log line = %v", line)
	}
}
