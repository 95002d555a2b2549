package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// sayTimeout bounds one /say stream. Zero means no limit beyond the
// server and connection timeouts.
var sayTimeout time.Duration

// SetSayTimeoutSeconds sets the say timeout in seconds (0 disables).
func SetSayTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	sayTimeout = time.Duration(sec) * time.Second
}

// toolTimeout is applied to webhook tools that do not set their own.
var toolTimeout time.Duration

// SetToolTimeout sets the default webhook tool timeout (0 uses the tool default).
func SetToolTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	toolTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// corsHandler builds the CORS middleware from the configured options, or
// returns nil when CORS is disabled.
func corsHandler() func(http.Handler) http.Handler {
	if !corsEnabled {
		return nil
	}
	origins := corsAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "X-Log-Level"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id", "X-Session-Id"},
		MaxAge:         300,
	})
}
