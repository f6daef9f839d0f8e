package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/driveline/priceengine/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func backboneWith(t *testing.T, rawDim int, rt roundTripFunc) *HTTPBackbone {
	t.Helper()
	cfg := config.BackboneConfig{
		BaseURL: "http://backbone.internal",
		APIKey:  "secret-key",
		Model:   "resnet50-frozen",
	}
	b, err := NewHTTPBackboneWithClient(cfg, rawDim, &http.Client{Transport: rt})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestExtractHappyPath(t *testing.T) {
	embedding := []float64{0.1, 0.2, 0.3, 0.4}
	var sawAuth string
	var sawPath string

	b := backboneWith(t, 4, func(r *http.Request) (*http.Response, error) {
		sawAuth = r.Header.Get("Authorization")
		sawPath = r.URL.Path
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("request body: %v", err)
		}
		if req.Model != "resnet50-frozen" || len(req.Input) != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}
		body, _ := json.Marshal(map[string]any{
			"data": []map[string]any{{"embedding": embedding, "index": 0}},
		})
		return jsonResponse(http.StatusOK, string(body)), nil
	})

	vec, err := b.Extract(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(vec) != 4 || vec[2] != 0.3 {
		t.Fatalf("got %v", vec)
	}
	if sawAuth != "Bearer secret-key" {
		t.Errorf("auth header = %q", sawAuth)
	}
	if sawPath != "/v1/embeddings" {
		t.Errorf("path = %q", sawPath)
	}
}

func TestExtractRejectsUndecodableImage(t *testing.T) {
	called := false
	b := backboneWith(t, 4, func(*http.Request) (*http.Response, error) {
		called = true
		return nil, fmt.Errorf("should not be reached")
	})

	if _, err := b.Extract(context.Background(), []byte("not an image")); err == nil {
		t.Fatal("garbage bytes accepted")
	}
	if called {
		t.Error("upstream called for undecodable image")
	}
	if _, err := b.Extract(context.Background(), nil); err == nil {
		t.Fatal("empty bytes accepted")
	}
}

func TestExtractUpstreamFailures(t *testing.T) {
	img := testPNG(t)

	b := backboneWith(t, 4, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, "backbone overloaded"), nil
	})
	if _, err := b.Extract(context.Background(), img); err == nil {
		t.Fatal("non-200 status accepted")
	}

	b = backboneWith(t, 4, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[]}`), nil
	})
	if _, err := b.Extract(context.Background(), img); err == nil {
		t.Fatal("empty data accepted")
	}

	b = backboneWith(t, 4, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[{"embedding":[1,2],"index":0}]}`), nil
	})
	if _, err := b.Extract(context.Background(), img); err == nil {
		t.Fatal("wrong embedding width accepted")
	}
}

func TestNewHTTPBackboneRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPBackbone(config.BackboneConfig{}, 4); err == nil {
		t.Fatal("empty base url accepted")
	}
}
