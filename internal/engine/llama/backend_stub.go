//go:build !llama

package llama

// No-CGO stub compiled when the 'llama' build tag is not set, keeping default
// builds and CI CGO-free. The real backend lives in backend_llama.go.

import (
	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/errs"
)

// Backend refuses to load models in builds without libllama.
type Backend struct {
	log zerolog.Logger
}

func NewBackend(log zerolog.Logger) *Backend { return &Backend{log: log} }

// Available reports whether this build can run models.
func Available() bool { return false }

func (b *Backend) LoadModel(path string, opts engine.LoadOptions) (engine.Model, error) {
	return nil, errs.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
