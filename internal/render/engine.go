package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
)

// ErrNotReady is returned while no engine is registered, e.g. while the
// upstream renderer is still building.
var ErrNotReady = errors.New("render: renderer not ready")

// Engine renders a page. It returns the HTML fragment and records emitted
// cache tags and the output template name on rc.
type Engine interface {
	Render(ctx context.Context, rc *RenderContext) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, rc *RenderContext) (string, error)

func (f EngineFunc) Render(ctx context.Context, rc *RenderContext) (string, error) {
	return f(ctx, rc)
}

// Error is an engine failure carrying an HTTP-like status code.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("render: status %d", e.Code)
	}
	return fmt.Sprintf("render: status %d: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err signals a missing page.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == http.StatusNotFound
}

type engineHolder struct {
	engine Engine
}

// Registry holds the process-wide engine. It starts empty and is filled once
// the renderer is ready; Swap replaces it on a rebuild.
type Registry struct {
	current atomic.Pointer[engineHolder]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Engine returns the registered engine or nil.
func (r *Registry) Engine() Engine {
	h := r.current.Load()
	if h == nil {
		return nil
	}
	return h.engine
}

func (r *Registry) Ready() bool {
	return r.Engine() != nil
}

// Swap registers e and returns the previous engine. A nil e puts the
// registry back into the not-ready state.
func (r *Registry) Swap(e Engine) Engine {
	var next *engineHolder
	if e != nil {
		next = &engineHolder{engine: e}
	}
	prev := r.current.Swap(next)
	if prev == nil {
		return nil
	}
	return prev.engine
}
