package httpapi

import (
	"context"
	"net/http"
)

// baseCtx is cancelled when the process begins shutting down. Admin loads run
// under it alone, detached from the caller's connection.
var baseCtx = context.Background()

// SetBaseContext installs the shutdown context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseCtx = ctx
}

// inferContext ends when the client disconnects, the server shuts down or the
// infer timeout elapses, whichever comes first.
func inferContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(baseCtx)
	stop := context.AfterFunc(r.Context(), cancel)
	release := func() {
		stop()
		cancel()
	}
	if opts.inferTimeout <= 0 {
		return ctx, release
	}
	tctx, tcancel := context.WithTimeout(ctx, opts.inferTimeout)
	return tctx, func() {
		tcancel()
		release()
	}
}

// abandoned reports whether nobody is left to read the response.
func abandoned(r *http.Request) bool {
	return r.Context().Err() != nil || baseCtx.Err() != nil
}
