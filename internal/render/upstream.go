package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxErrorBody = 512

type renderRequest struct {
	URL            string            `json:"url"`
	StoreCode      string            `json:"storeCode"`
	OutputTemplate string            `json:"outputTemplate,omitempty"`
	Headers        map[string]string `json:"headers"`
}

type renderResponse struct {
	HTML           string   `json:"html"`
	CacheTags      []string `json:"cacheTags"`
	OutputTemplate string   `json:"outputTemplate"`
}

// HTTPEngine renders pages on an upstream render service.
//
//	POST <base>/render   {url, storeCode, outputTemplate, headers}
//	  200 {html, cacheTags, outputTemplate}
//	  404 page not found
//	GET  <base>/healthz  200 once the service can render
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Render(ctx context.Context, rc *RenderContext) (string, error) {
	headers := make(map[string]string, len(rc.Headers))
	for name := range rc.Headers {
		headers[strings.ToLower(name)] = rc.Headers.Get(name)
	}
	payload, err := json.Marshal(renderRequest{
		URL:            rc.URL,
		StoreCode:      rc.StoreCode,
		OutputTemplate: rc.OutputTemplate,
		Headers:        headers,
	})
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &Error{Code: resp.StatusCode, Err: fmt.Errorf("upstream: %s", strings.TrimSpace(string(snippet)))}
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	rc.CacheTags.Add(out.CacheTags...)
	if out.OutputTemplate != "" {
		rc.OutputTemplate = out.OutputTemplate
	}
	return out.HTML, nil
}

// Healthy returns nil once the upstream answers its health check with 200.
func (e *HTTPEngine) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream health status %d", resp.StatusCode)
	}
	return nil
}

// HealthChecker is an engine that can report readiness.
type HealthChecker interface {
	Engine
	Healthy(ctx context.Context) error
}

// RegisterWhenReady polls engine until it is healthy, then registers it. It
// returns when the engine is registered or ctx is done.
func RegisterWhenReady(ctx context.Context, registry *Registry, engine HealthChecker, interval time.Duration, log *zap.Logger) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		err := engine.Healthy(ctx)
		if err == nil {
			registry.Swap(engine)
			log.Info("Renderer ready", zap.Int("attempts", attempt))
			return nil
		}
		if attempt == 1 || attempt%10 == 0 {
			log.Info("Waiting for renderer", zap.Int("attempt", attempt), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
