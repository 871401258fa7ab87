// Package imaging calls the image-render sidecar that rasterizes pass
// artwork (icon, logo, strip with the stamp grid). Rendering internals are
// opaque here; this package only speaks the sidecar's HTTP contract.
package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stampwise/stampwise/internal/design"
	"github.com/stampwise/stampwise/internal/resilience"
)

// RenderRequest describes one pass's artwork to rasterize.
type RenderRequest struct {
	Platform string             `json:"platform"`
	Design   design.CardDesign  `json:"design"`
	Progress RenderProgressSpec `json:"progress"`
}

// RenderProgressSpec drives the stamp grid on the strip image.
type RenderProgressSpec struct {
	CurrentStamps int `json:"currentStamps"`
	MaxStamps     int `json:"maxStamps"`
}

// Images holds the rendered bitmaps keyed by bundle filename
// (icon.png, icon@2x.png, logo.png, strip.png, ...).
type Images map[string][]byte

// Renderer rasterizes pass artwork.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (Images, error)
}

// HTTPRenderer talks to the render sidecar through the resilience client.
type HTTPRenderer struct {
	baseURL string
	client  *resilience.Client
}

// NewHTTPRenderer creates a renderer against the sidecar base URL.
func NewHTTPRenderer(baseURL string, client *resilience.Client) *HTTPRenderer {
	return &HTTPRenderer{baseURL: baseURL, client: client}
}

// Render posts the request and decodes the sidecar's base64-encoded image
// map. Image bytes travel base64 inside JSON; the sidecar has no multipart
// surface.
func (r *HTTPRenderer) Render(ctx context.Context, req RenderRequest) (Images, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("render call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("render sidecar returned %d: %s", resp.StatusCode, payload)
	}

	var decoded struct {
		Images map[string][]byte `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	return decoded.Images, nil
}

// StaticRenderer returns the same canned bitmaps for every request. Used in
// tests and local development without the sidecar.
type StaticRenderer struct {
	Files Images
}

// NewStaticRenderer creates a renderer with minimal placeholder images.
func NewStaticRenderer() *StaticRenderer {
	return &StaticRenderer{Files: Images{
		"icon.png":    []byte("png:icon"),
		"icon@2x.png": []byte("png:icon@2x"),
		"logo.png":    []byte("png:logo"),
		"strip.png":   []byte("png:strip"),
	}}
}

// Render returns a copy of the canned image map.
func (r *StaticRenderer) Render(_ context.Context, _ RenderRequest) (Images, error) {
	out := make(Images, len(r.Files))
	for name, data := range r.Files {
		out[name] = append([]byte(nil), data...)
	}
	return out, nil
}

var (
	_ Renderer = (*HTTPRenderer)(nil)
	_ Renderer = (*StaticRenderer)(nil)
)
