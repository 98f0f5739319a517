package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lazyd/pkg/types"
)

// ErrNotFound is returned when the control plane answers 404 for a worker.
var ErrNotFound = errors.New("worker not found")

// ConflictError is returned when an unload is refused because the worker
// still has requests in flight.
type ConflictError struct {
	WorkerID       string
	ActiveRequests int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unload %s refused: %d active requests", e.WorkerID, e.ActiveRequests)
}

// StatusError is any other non-2xx answer.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// UnreachableError wraps transport failures and timeouts.
type UnreachableError struct {
	Op  string
	Err error
}

func (e UnreachableError) Error() string {
	return e.Op + ": control plane unreachable: " + e.Err.Error()
}
func (e UnreachableError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err is a transport-level failure.
func IsUnreachable(err error) bool {
	var e UnreachableError
	return errors.As(err, &e)
}

// ControlPlane is the subset of the lifecycle API the watchdog drives.
type ControlPlane interface {
	ListLoaded(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, id string) (types.QueueStats, error)
	Load(ctx context.Context, id string) (types.LoadResponse, error)
	Unload(ctx context.Context, id string) (types.UnloadResponse, error)
}

// Client talks to a lazyd control plane over HTTP.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewClient returns a Client for baseURL. Every call is bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
	}
}

// ListLoaded returns the ids listed by GET /v1/models.
func (c *Client) ListLoaded(ctx context.Context) ([]string, error) {
	var resp types.ServingModelsResponse
	if err := c.do(ctx, "list", http.MethodGet, "/v1/models", &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Stats fetches queue statistics for id.
func (c *Client) Stats(ctx context.Context, id string) (types.QueueStats, error) {
	var resp types.StatsResponse
	err := c.do(ctx, "stats "+id, http.MethodGet, "/v1/admin/models/"+url.PathEscape(id)+"/stats", &resp)
	return resp.QueueStats, err
}

// Load asks the control plane to load and activate id.
func (c *Client) Load(ctx context.Context, id string) (types.LoadResponse, error) {
	var resp types.LoadResponse
	err := c.do(ctx, "load "+id, http.MethodPost, "/v1/admin/models/"+url.PathEscape(id)+"/load", &resp)
	return resp, err
}

// Unload asks the control plane to unload id.
func (c *Client) Unload(ctx context.Context, id string) (types.UnloadResponse, error) {
	var resp types.UnloadResponse
	err := c.do(ctx, "unload "+id, http.MethodPost, "/v1/admin/models/"+url.PathEscape(id)+"/unload", &resp)
	var ce *ConflictError
	if errors.As(err, &ce) {
		ce.WorkerID = id
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, op, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return UnreachableError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UnreachableError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		var er types.ErrorResponse
		_ = json.Unmarshal(body, &er)
		return &ConflictError{ActiveRequests: er.ActiveRequests}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
