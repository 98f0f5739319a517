package types

// ModelEntry is one row of the admin listing returned by GET /v1/admin/models.
type ModelEntry struct {
	// Stable identifier of the worker.
	// example: qwen-7b
	WorkerID string `json:"worker_id" example:"qwen-7b"`
	// Declared model type (lm, multimodal, whisper, embeddings, ...).
	// example: lm
	ModelType string `json:"model_type" example:"lm"`
	// Declared context length in tokens.
	// example: 32768
	ContextLength int `json:"context_length" example:"32768"`
	// Whether the worker process is currently resident.
	// A lazily registered worker that has not served a request yet reports false.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Whether the worker is wrapped for lazy activation.
	// example: true
	Lazy bool `json:"lazy" example:"true"`
	// Declared idle limit in seconds; zero or negative disables idle unloads.
	// example: 1800
	IdleTimeout int `json:"idle_timeout" example:"1800"`
	// Last time a request reached the worker (unix seconds, 0 if never).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// QueueStats reports admission state of one worker.
type QueueStats struct {
	// Requests currently holding a concurrency slot (including live streams).
	// example: 1
	ActiveRequests int `json:"active_requests" example:"1"`
	// Requests waiting for a concurrency slot.
	// example: 0
	QueuedRequests int `json:"queued_requests" example:"0"`
	// example: 1
	MaxConcurrency int `json:"max_concurrency" example:"1"`
	// example: 32
	QueueSize int `json:"queue_size" example:"32"`
	// Requests admitted since the worker instance was started.
	// example: 12
	TotalRequests uint64 `json:"total_requests" example:"12"`
	// Identity of the underlying worker instance; changes on every rebuild.
	InstanceID string `json:"instance_id,omitempty"`
	// Process ID of the worker runtime, when running.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// TCP port of the worker runtime, when running.
	// example: 30001
	Port int `json:"port,omitempty" example:"30001"`
	// Resident set size of the worker process in bytes.
	// example: 4294967296
	RSSBytes uint64 `json:"rss_bytes,omitempty" example:"4294967296"`
}

// GenerateRequest is the request forwarded to a worker.
type GenerateRequest struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	Stop          []string
	Seed          int64
	RepeatPenalty float64
}

// GenerateResult summarizes a completed generation.
type GenerateResult struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
