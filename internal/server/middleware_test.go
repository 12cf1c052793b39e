package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/testutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := requestIDMiddleware(recoveryMiddleware(testutil.TestLogger(), inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/panics", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body model.APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != model.ErrCodeInternalError {
		t.Errorf("got code %q, want %q", body.Error.Code, model.ErrCodeInternalError)
	}
	if body.Meta.RequestID == "" {
		t.Error("error body should carry the request id")
	}
}

func TestRecoveryMiddlewareRepanicsAbort(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	handler := recoveryMiddleware(testutil.TestLogger(), inner)

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated request id %q is not a uuid", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header %q does not match context %q", rec.Header().Get("X-Request-ID"), seen)
	}

	// Oversized client ids are replaced rather than echoed.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("oversized request id should be replaced, got %q", seen)
	}
}

func TestStatusWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	var w http.ResponseWriter = sw
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("statusWriter must implement http.Flusher for SSE handlers")
	}
	flusher.Flush()
	if !rec.Flushed {
		t.Error("Flush did not reach the underlying writer")
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "missing")
	})
	handler := loggingMiddleware(testutil.TestLogger(), inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content type %q", ct)
	}
}
