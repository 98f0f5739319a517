package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lazyd/internal/config"
	"lazyd/pkg/types"
)

// blockService blocks in Infer until the context is done.
type blockService struct{ mockService }

func (b *blockService) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInferLogsWithZerologInfo(t *testing.T) {
	SetLogger(zerolog.New(io.Discard))
	defer func() { zlog = nil }()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/infer?log=info", stringsReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	NewMux(&mockService{}).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with info logging, got %d", w.Code)
	}
}

func TestInferStreamsWithDebugLogging(t *testing.T) {
	SetLogger(zerolog.New(io.Discard))
	defer func() { zlog = nil }()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/infer?log=debug", stringsReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	NewMux(&mockService{}).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with debug logging, got %d", w.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORS(config.CORSConfig{Enabled: true, Origins: []string{"*"}, Methods: []string{"GET", "POST", "OPTIONS"}, Headers: []string{"Content-Type"}})
	defer SetCORS(config.CORSConfig{})

	h := NewMux(&mockService{ready: true})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header %q", got)
	}
}

func TestInferTimeoutReturns500(t *testing.T) {
	defer SetInferTimeout(0)
	SetInferTimeout(100 * time.Millisecond)

	w := postInfer(NewMux(&blockService{}), `{"prompt":"x"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on timeout, got %d", w.Code)
	}
}

func TestInferServerShutdownWritesNothing(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	cancel()

	w := postInfer(NewMux(&blockService{}), `{"prompt":"x"}`)
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body after shutdown, got %q", w.Body.String())
	}
}
