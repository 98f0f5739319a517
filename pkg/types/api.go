package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Optional worker identifier. If empty, the server default is used.
	// example: qwen-7b
	Model string `json:"model,omitempty" example:"qwen-7b"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
}

// GenerateRequest converts the wire payload into the worker request.
func (r InferRequest) GenerateRequest() GenerateRequest {
	return GenerateRequest{
		Prompt:        r.Prompt,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		Stop:          append([]string(nil), r.Stop...),
		Seed:          r.Seed,
		RepeatPenalty: r.RepeatPenalty,
	}
}

// ModelsResponse wraps the admin listing returned by GET /v1/admin/models.
type ModelsResponse struct {
	Models []ModelEntry `json:"models"`
}

// StatsResponse is returned by GET /v1/admin/models/{id}/stats.
type StatsResponse struct {
	// example: qwen-7b
	WorkerID   string     `json:"worker_id" example:"qwen-7b"`
	QueueStats QueueStats `json:"queue_stats"`
}

// Lifecycle status values reported by the load/unload endpoints.
const (
	StatusLoaded        = "loaded"
	StatusAlreadyLoaded = "already_loaded"
	StatusUnloaded      = "unloaded"
)

// UnloadResponse is returned by a successful POST /v1/admin/models/{id}/unload.
type UnloadResponse struct {
	// example: unloaded
	Status string `json:"status" example:"unloaded"`
	// example: qwen-7b
	WorkerID string `json:"worker_id" example:"qwen-7b"`
	// Unix seconds when the worker was unregistered.
	// example: 1700000000
	Timestamp int64 `json:"timestamp" example:"1700000000"`
}

// LoadResponse is returned by POST /v1/admin/models/{id}/load.
type LoadResponse struct {
	// Either "loaded" or "already_loaded".
	// example: loaded
	Status string `json:"status" example:"loaded"`
	// example: qwen-7b
	WorkerID string `json:"worker_id" example:"qwen-7b"`
	// Model path from configuration; empty when already loaded.
	// example: /models/qwen-7b
	ModelPath string `json:"model_path,omitempty" example:"/models/qwen-7b"`
}

// ServingModel is one entry of the serving-facing GET /v1/models listing.
type ServingModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ServingModelsResponse is the OpenAI-style model list.
type ServingModelsResponse struct {
	Object string         `json:"object"`
	Data   []ServingModel `json:"data"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: worker not found: qwen-7b
	Error string `json:"error" example:"worker not found: qwen-7b"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Set on 409 responses to a busy unload.
	// example: 2
	ActiveRequests int `json:"active_requests,omitempty" example:"2"`
}

// WorkerStatus summarizes a registered worker for /status.
type WorkerStatus struct {
	// example: qwen-7b
	WorkerID string `json:"worker_id" example:"qwen-7b"`
	// Lifecycle state (unloaded, starting, loaded).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: true
	Lazy bool `json:"lazy" example:"true"`
	// example: 1800
	IdleTimeout int `json:"idle_timeout" example:"1800"`
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// example: 1700000000
	RegisteredAt int64 `json:"registered_at_unix" example:"1700000000"`
	// Number of times the lazy wrapper has built a fresh worker instance.
	// example: 3
	Generation uint64 `json:"generation,omitempty" example:"3"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Workers []WorkerStatus `json:"workers"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total successful loads through the control plane.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total successful unloads through the control plane.
	// example: 5
	UnloadsTotal uint64 `json:"unloads_total" example:"5"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
}
