package httpapi

import (
	"time"

	"lazyd/internal/config"
)

// DefaultMaxBodyBytes bounds JSON request bodies unless SetMaxBodyBytes says otherwise.
const DefaultMaxBodyBytes int64 = 1 << 20

// settings are process-wide and read by NewMux and the handlers. The binary
// sets them once before serving.
type settings struct {
	maxBody      int64
	inferTimeout time.Duration
	adminToken   string
	cors         config.CORSConfig
}

var opts = settings{maxBody: DefaultMaxBodyBytes}

// ApplyServerConfig takes the admin token and CORS section from cfg.
func ApplyServerConfig(cfg config.ServerConfig) {
	SetAdminToken(cfg.AdminToken)
	SetCORS(cfg.CORS)
}

// SetMaxBodyBytes limits /infer bodies. Non-positive restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBodyBytes
	}
	opts.maxBody = n
}

// SetInferTimeout caps how long one /infer stream may run. Zero or negative disables it.
func SetInferTimeout(d time.Duration) {
	opts.inferTimeout = max(d, 0)
}

// SetCORS configures the CORS middleware; it is mounted only when c.Enabled.
func SetCORS(c config.CORSConfig) {
	opts.cors = config.CORSConfig{
		Enabled: c.Enabled,
		Origins: append([]string(nil), c.Origins...),
		Methods: append([]string(nil), c.Methods...),
		Headers: append([]string(nil), c.Headers...),
	}
}

// SetAdminToken sets the bearer token required by /v1/admin ("" disables the check).
func SetAdminToken(tok string) { opts.adminToken = tok }
