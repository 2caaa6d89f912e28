// Package invalidate expands tag invalidation requests against the set of
// registered tags and removes the matching cache entries.
package invalidate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pagefront/internal/cache"
	"pagefront/internal/metrics"
	"pagefront/internal/telemetry"
)

// Wildcard selects every registered tag.
const Wildcard = "*"

var (
	ErrUnauthorized   = errors.New("invalidate: invalid cache invalidation key")
	ErrInvalidRequest = errors.New("invalidate: tag is required")
	ErrInvalidTag     = errors.New("invalidate: tag is not registered")
)

// Registry is the static set of tags that may be invalidated. A candidate is
// legal when it equals a registered tag or starts with one, so registering
// "P" admits "P1234".
type Registry struct {
	tags []string
}

func NewRegistry(tags []string) *Registry {
	cp := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cp = append(cp, t)
		}
	}
	return &Registry{tags: cp}
}

func (r *Registry) Tags() []string {
	return append([]string(nil), r.tags...)
}

func (r *Registry) Allowed(tag string) bool {
	for _, registered := range r.tags {
		if tag == registered || strings.HasPrefix(tag, registered) {
			return true
		}
	}
	return false
}

// Expand turns the raw tag parameter into legal and skipped tags.
func (r *Registry) Expand(raw string) (legal, skipped []string) {
	if strings.TrimSpace(raw) == Wildcard {
		return r.Tags(), nil
	}
	seen := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if r.Allowed(t) {
			legal = append(legal, t)
		} else {
			skipped = append(skipped, t)
		}
	}
	return legal, skipped
}

type Options struct {
	Enabled bool
	Key     string
	Workers int
}

// Result summarises an invalidation.
type Result struct {
	Disabled    bool           `json:"-"`
	Invalidated map[string]int `json:"invalidated"`
	Skipped     []string       `json:"skipped,omitempty"`
	Total       int            `json:"total"`
}

type Service struct {
	store    cache.Store
	registry *Registry
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewService(store cache.Store, registry *Registry, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Service{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Invalidate removes every entry matching tag after checking key. With the
// cache disabled it succeeds without doing anything. Failing tags do not stop
// the others; their errors are joined in the returned error.
func (s *Service) Invalidate(ctx context.Context, tag, key string) (*Result, error) {
	if !s.opts.Enabled {
		return &Result{Disabled: true}, nil
	}
	// An unset secret disables the endpoint rather than accepting an empty key.
	if s.opts.Key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.Key)) != 1 {
		s.logger.Warn("Rejected cache invalidation with invalid key", zap.String("tag", tag))
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(tag) == "" {
		return nil, ErrInvalidRequest
	}

	legal, skipped := s.registry.Expand(tag)
	for _, t := range skipped {
		s.metrics.Invalidation("skipped", 0)
		s.logger.Warn("Skipping cache invalidation", zap.String("tag", t), zap.Error(ErrInvalidTag))
	}

	res := &Result{
		Invalidated: make(map[string]int, len(legal)),
		Skipped:     skipped,
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, t := range legal {
		t := t
		g.Go(func() error {
			tctx, span := telemetry.StartSpan(ctx, "invalidate", telemetry.AttrCacheTag.String(t))
			defer span.End()

			n, err := s.store.Invalidate(tctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				telemetry.SetSpanError(span, err)
				s.metrics.Invalidation("error", 0)
				s.logger.Error("Cache invalidation failed", zap.String("tag", t), zap.Error(err))
				errs = append(errs, fmt.Errorf("tag %s: %w", t, err))
				return nil
			}
			s.metrics.Invalidation("ok", n)
			s.logger.Info("Cache invalidated", zap.String("tag", t), zap.Int("entries", n))
			res.Invalidated[t] = n
			res.Total += n
			return nil
		})
	}
	g.Wait()

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return res, errors.Join(errs...)
	}
	return res, nil
}
