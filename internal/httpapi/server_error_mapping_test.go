package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"lazyd/internal/manager"
	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", manager.ErrNotFound("m-missing"), http.StatusNotFound},
		{"too busy", manager.ErrTooBusy("m"), http.StatusTooManyRequests},
		{"raw busy", fmt.Errorf("queue: %w", worker.ErrBusy), http.StatusTooManyRequests},
		{"activation", manager.ErrActivationFailure("m", errors.New("boom")), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postInfer(NewMux(&mockService{inferErr: tc.err}), `{"prompt":"hi"}`)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.want || body.Error == "" {
				t.Fatalf("unexpected body: %+v", body)
			}
		})
	}
}
