package render

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pagefront/internal/cache"
	"pagefront/internal/metrics"
	"pagefront/internal/telemetry"
	"pagefront/internal/template"
)

// State is the position of a request in the render state machine:
// NotReady -> Rendering -> Composited -> Cached|Skipped, or
// Rendering -> Failed.
type State int

const (
	StateNotReady State = iota
	StateRendering
	StateComposited
	StateCached
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateRendering:
		return "rendering"
	case StateComposited:
		return "composited"
	case StateCached:
		return "cached"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Options struct {
	DefaultTemplate  string
	StoreCodeHeader  string
	DefaultStoreCode string
	CacheEnabled     bool
	TaggingEnabled   bool
	TTL              time.Duration
}

// Result is a finished render.
type Result struct {
	Body     string
	Tags     []string
	Template string
	State    State
	Duration time.Duration
}

// Coordinator turns a request into a composited page and hands it to the
// cache writer. Every call renders: concurrent requests for the same path
// are not coalesced.
type Coordinator struct {
	registry  *Registry
	templates *template.Compositor
	writer    *cache.Writer
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewCoordinator(registry *Registry, templates *template.Compositor, writer *cache.Writer, opts Options, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		registry:  registry,
		templates: templates,
		writer:    writer,
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

func (c *Coordinator) storeCode(r *http.Request) string {
	if c.opts.StoreCodeHeader != "" {
		if code := r.Header.Get(c.opts.StoreCodeHeader); code != "" {
			return code
		}
	}
	return c.opts.DefaultStoreCode
}

// Render runs the engine for r. It returns ErrNotReady without rendering
// when no engine is registered. Engine errors are returned as is so callers
// can check IsNotFound.
func (c *Coordinator) Render(ctx context.Context, r *http.Request) (*Result, error) {
	engine := c.registry.Engine()
	if engine == nil {
		c.metrics.Render(StateNotReady.String(), 0)
		return &Result{State: StateNotReady}, ErrNotReady
	}

	key := cache.PageKey(r.URL.RequestURI())
	rc := newRenderContext(r, c.storeCode(r))

	// A client disconnect does not abort the render; the page still reaches
	// the cache. The engine bounds the call with its own timeout.
	ctx, span := telemetry.StartSpan(context.WithoutCancel(ctx), "render",
		telemetry.AttrCacheKey.String(key),
		telemetry.AttrStoreCode.String(rc.StoreCode),
	)
	defer span.End()

	res := &Result{State: StateRendering}
	start := time.Now()
	html, err := engine.Render(ctx, rc)
	res.Duration = time.Since(start)
	if err != nil {
		res.State = StateFailed
		telemetry.SetSpanError(span, err)
		c.metrics.Render(res.State.String(), res.Duration)
		return res, err
	}

	res.Tags = rc.CacheTags.Sorted()
	res.Template = rc.OutputTemplate
	if res.Template == "" {
		res.Template = c.opts.DefaultTemplate
	}

	// Composited whether or not tagging is enabled.
	body, err := c.templates.Composite(res.Template, rc, html)
	if err != nil {
		res.State = StateFailed
		telemetry.SetSpanError(span, err)
		c.metrics.Render(res.State.String(), res.Duration)
		return res, fmt.Errorf("composite %s: %w", res.Template, err)
	}
	res.Body = body
	res.State = StateComposited

	if c.opts.CacheEnabled {
		var tags []string
		if c.opts.TaggingEnabled {
			tags = res.Tags
		}
		c.writer.Write(key, body, tags, c.opts.TTL)
		res.State = StateCached
	} else {
		res.State = StateSkipped
	}

	span.SetAttributes(
		telemetry.AttrTemplate.String(res.Template),
		telemetry.AttrState.String(res.State.String()),
	)
	c.metrics.Render(res.State.String(), res.Duration)
	c.logger.Debug("Page rendered",
		zap.String("key", key),
		zap.String("template", res.Template),
		zap.Strings("tags", res.Tags),
		zap.Stringer("state", res.State),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
