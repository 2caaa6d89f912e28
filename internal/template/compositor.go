// Package template holds the output templates that wrap rendered page
// fragments. Each template is an HTML shell containing Marker exactly once;
// compositing executes the shell against the render context and puts the
// fragment where the marker was.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/google/uuid"
)

// Marker is the injection point for the rendered fragment.
const Marker = "<!--ssr-outlet-->"

var (
	ErrMarkerMissing    = errors.New("template: injection marker missing")
	ErrMarkerDuplicated = errors.New("template: injection marker appears more than once")
)

// Compiled is a parsed output template. The marker is swapped for a random
// outlet token before parsing, so values rendered into the shell cannot
// pose as the injection point.
type Compiled struct {
	name   string
	outlet string
	tmpl   *texttemplate.Template
}

// Compile parses raw and checks that it carries the marker exactly once.
func Compile(name, raw string) (*Compiled, error) {
	switch strings.Count(raw, Marker) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrMarkerMissing, name)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s", ErrMarkerDuplicated, name)
	}

	outlet := "<!--outlet-" + uuid.NewString() + "-->"
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(strings.Replace(raw, Marker, outlet, 1))
	if err != nil {
		return nil, fmt.Errorf("template: parse %s: %w", name, err)
	}
	return &Compiled{name: name, outlet: outlet, tmpl: tmpl}, nil
}

// execute runs the template against data. The result carries the outlet
// token where the marker was.
func (c *Compiled) execute(data any) (string, error) {
	var b strings.Builder
	if err := c.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("template: execute %s: %w", c.name, err)
	}
	return b.String(), nil
}

// Inject executes the template and puts fragment at the outlet.
func (c *Compiled) Inject(data any, fragment string) (string, error) {
	shell, err := c.execute(data)
	if err != nil {
		return "", err
	}
	// The outlet can vanish or repeat at execution time, e.g. inside {{if}} or {{range}}.
	switch strings.Count(shell, c.outlet) {
	case 0:
		return "", fmt.Errorf("%w: %s (after execution)", ErrMarkerMissing, c.name)
	case 1:
	default:
		return "", fmt.Errorf("%w: %s (after execution)", ErrMarkerDuplicated, c.name)
	}
	return strings.Replace(shell, c.outlet, fragment, 1), nil
}

// Compositor caches compiled templates by name for the life of the process.
type Compositor struct {
	mu        sync.RWMutex
	templates map[string]*Compiled
}

func New() *Compositor {
	return &Compositor{templates: make(map[string]*Compiled)}
}

// Compile compiles raw and stores it under name, replacing any previous
// template of that name.
func (c *Compositor) Compile(name, raw string) error {
	compiled, err := Compile(name, raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.templates[name] = compiled
	c.mu.Unlock()
	return nil
}

// Replace compiles the whole set and swaps it in. On error the current set
// is kept.
func (c *Compositor) Replace(raws map[string]string) error {
	next := make(map[string]*Compiled, len(raws))
	var errs []error
	for name, raw := range raws {
		compiled, err := Compile(name, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next[name] = compiled
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.mu.Lock()
	c.templates = next
	c.mu.Unlock()
	return nil
}

func (c *Compositor) Lookup(name string) (*Compiled, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	compiled, ok := c.templates[name]
	return compiled, ok
}

func (c *Compositor) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Composite wraps fragment in the template called name. An unknown name
// returns the fragment unchanged.
func (c *Compositor) Composite(name string, data any, fragment string) (string, error) {
	compiled, ok := c.Lookup(name)
	if !ok {
		return fragment, nil
	}
	return compiled.Inject(data, fragment)
}
