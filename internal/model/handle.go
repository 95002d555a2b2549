// Package model provides a reference-counted handle to a loaded model. The
// weights are loaded once, shared read-only by every session that holds a
// clone, and freed when the last clone is released.
package model

import (
	"os"
	"sync"
	"sync/atomic"

	"chatd/internal/common/fsutil"
	"chatd/internal/engine"
	"chatd/internal/errs"
)

// LoadOptions configure Load.
type LoadOptions struct {
	UseGPU bool
}

type shared struct {
	m      engine.Model
	path   string
	useGPU bool
	refs   atomic.Int32
	once   sync.Once
	err    error
}

func (s *shared) release() error {
	if s.refs.Add(-1) == 0 {
		s.once.Do(func() { s.err = s.m.Close() })
		return s.err
	}
	return nil
}

// Handle is one reference to a shared model. Each holder owns exactly one
// Handle and releases it once.
type Handle struct {
	s        *shared
	released atomic.Bool
}

// Load reads the model at path through backend. A missing file fails with
// KindModelNotFound; a file the backend refuses fails with KindInvalidModel
// unless the backend itself is unavailable.
func Load(backend engine.Backend, path string, opts LoadOptions) (*Handle, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindModelNotFound, err, "model path %q", path)
	}
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return nil, errs.ErrModelNotFound(path)
	}
	m, err := backend.LoadModel(p, engine.LoadOptions{UseGPU: opts.UseGPU})
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.Wrap(errs.KindInvalidModel, err, "load %s", path)
		}
		return nil, err
	}
	return Wrap(m, p, opts.UseGPU), nil
}

// Wrap adopts an already loaded engine model with a reference count of one.
func Wrap(m engine.Model, path string, useGPU bool) *Handle {
	s := &shared{m: m, path: path, useGPU: useGPU}
	s.refs.Store(1)
	return &Handle{s: s}
}

// Clone returns a new reference to the same model without reloading it.
func (h *Handle) Clone() *Handle {
	if h.released.Load() {
		panic("model: Clone of released handle")
	}
	h.s.refs.Add(1)
	return &Handle{s: h.s}
}

// Release drops this reference. The model is closed when the last reference
// goes away. Releasing a handle twice is a no-op.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.s.release()
}

// Model returns the shared engine model.
func (h *Handle) Model() engine.Model { return h.s.m }

// Path is the resolved file path the model was loaded from.
func (h *Handle) Path() string { return h.s.path }

// UseGPU reports whether GPU offload was requested at load time.
func (h *Handle) UseGPU() bool { return h.s.useGPU }

// Refs reports the number of live references.
func (h *Handle) Refs() int { return int(h.s.refs.Load()) }

// Released reports whether this particular reference was released.
func (h *Handle) Released() bool { return h.released.Load() }
