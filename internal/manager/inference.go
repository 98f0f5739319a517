package manager

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

// Infer resolves the target worker, loading it first when it is configured
// but not registered and auto-load is enabled, and streams NDJSON token lines
// followed by a final {"done":true,...} line.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flusher func()) error {
	id := req.Model
	if id == "" {
		id = m.defaultModel
		if id == "" {
			return notFoundError{id: "(unspecified)"}
		}
	}
	if !m.reg.Has(id) {
		if !m.autoLoad {
			return ErrNotFound(id)
		}
		if _, err := m.Load(ctx, id); err != nil {
			return err
		}
	}
	e, ok := m.reg.Get(id)
	if !ok {
		// Unloaded between load and dispatch.
		return ErrNotFound(id)
	}

	onTok := func(tok string) error {
		if _, err := w.Write(tokenLineJSON(tok)); err != nil {
			return err
		}
		if flusher != nil {
			flusher()
		}
		return nil
	}
	final, err := e.Handler.GenerateStream(ctx, req.GenerateRequest(), onTok)
	if err != nil {
		if errors.Is(err, worker.ErrBusy) {
			return tooBusyError{id: id}
		}
		if !errors.Is(err, context.Canceled) {
			m.setLastErr(err)
		}
		return err
	}
	end := map[string]any{
		"done":          true,
		"content":       final.Content,
		"finish_reason": final.FinishReason,
		"usage":         final.Usage,
	}
	jb, _ := json.Marshal(end)
	if _, err := w.Write(append(jb, '\n')); err != nil {
		return err
	}
	if flusher != nil {
		flusher()
	}
	return nil
}

// tokenLineJSON formats a token NDJSON line using json.Marshal for correctness.
func tokenLineJSON(tok string) []byte {
	type tokenMsg struct {
		Token string `json:"token"`
	}
	b, _ := json.Marshal(tokenMsg{Token: tok})
	return append(b, '\n')
}
