package render

import (
	"net/http"
	"sort"
)

// TagSet is the set of cache tags a render emits.
type TagSet map[string]struct{}

func (s TagSet) Add(tags ...string) {
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
}

func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RenderContext is the per-request input and output of an engine call. The
// engine owns it for the duration of Render: it reads URL, StoreCode and
// Headers, adds to CacheTags and may set OutputTemplate.
type RenderContext struct {
	URL            string
	OutputTemplate string
	StoreCode      string
	Headers        http.Header
	CacheTags      TagSet
}

func newRenderContext(r *http.Request, storeCode string) *RenderContext {
	return &RenderContext{
		URL:       r.URL.RequestURI(),
		StoreCode: storeCode,
		Headers:   r.Header.Clone(),
		CacheTags: make(TagSet),
	}
}
