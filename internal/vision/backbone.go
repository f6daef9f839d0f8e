package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	// Decoder registrations: marketplace uploads arrive in all of these.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/driveline/priceengine/internal/config"
)

// Backbone turns one image into a raw fixed-length embedding. The
// production implementation calls a frozen CNN served over HTTP; it is an
// interface so tests and the trainer can substitute fakes.
type Backbone interface {
	Extract(ctx context.Context, imageBytes []byte) ([]float64, error)
	ID() string
	RawDim() int
}

// HTTPBackbone posts base64 images to an embeddings endpoint and expects an
// OpenAI-style response shape.
type HTTPBackbone struct {
	baseURL        string
	apiKey         string
	embeddingsPath string
	model          string
	rawDim         int
	timeout        time.Duration

	httpClient *http.Client
}

func NewHTTPBackbone(cfg config.BackboneConfig, rawDim int) (*HTTPBackbone, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backbone: base_url required")
	}
	path := strings.TrimSpace(cfg.EmbeddingsPath)
	if path == "" {
		path = "/v1/embeddings"
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPBackbone{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		embeddingsPath: path,
		model:          strings.TrimSpace(cfg.Model),
		rawDim:         rawDim,
		timeout:        timeout,
		httpClient:     &http.Client{Transport: tr},
	}, nil
}

// NewHTTPBackboneWithClient is intended for tests; it avoids network access
// by using a custom RoundTripper.
func NewHTTPBackboneWithClient(cfg config.BackboneConfig, rawDim int, httpClient *http.Client) (*HTTPBackbone, error) {
	b, err := NewHTTPBackbone(cfg, rawDim)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		b.httpClient = httpClient
	}
	return b, nil
}

func (b *HTTPBackbone) ID() string  { return b.model }
func (b *HTTPBackbone) RawDim() int { return b.rawDim }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Extract decode-checks the bytes locally, then fetches the embedding. Any
// failure is returned to the caller; the zero-vector policy lives one layer
// up in the Pipeline.
func (b *HTTPBackbone) Extract(ctx context.Context, imageBytes []byte) ([]float64, error) {
	if len(imageBytes) == 0 {
		return nil, errors.New("backbone: empty image")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err != nil {
		return nil, fmt.Errorf("backbone: undecodable image: %w", err)
	}

	reqBody := embeddingsRequest{
		Model: b.model,
		Input: []string{base64.StdEncoding.EncodeToString(imageBytes)},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+b.embeddingsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("backbone: upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("backbone: decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, errors.New("backbone: empty embedding response")
	}
	vec := out.Data[0].Embedding
	if len(vec) != b.rawDim {
		return nil, fmt.Errorf("backbone: embedding dim %d, want %d", len(vec), b.rawDim)
	}
	return vec, nil
}
