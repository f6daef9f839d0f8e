package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// Pipeline maps images to fixed-width reduced embeddings with a
// read-through content-hash cache. Extraction failure is a policy, not an
// error path: a meaningful share of marketplace photos are unreachable or
// broken, so callers always get a vector and never an error.
type Pipeline struct {
	log        *logger.Logger
	backbone   Backbone
	cache      FeatureCache
	reducedDim int

	mu      sync.RWMutex
	reducer *Reducer

	group singleflight.Group
}

func NewPipeline(log *logger.Logger, backbone Backbone, cache FeatureCache, reducedDim int) *Pipeline {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Pipeline{
		log:        log.With("service", "ImagePipeline"),
		backbone:   backbone,
		cache:      cache,
		reducedDim: reducedDim,
	}
}

// SetReducer installs the fitted projection from the active artifact. Until
// one is installed every extraction resolves to the zero vector, because an
// unreduced embedding cannot align with any trained model.
func (p *Pipeline) SetReducer(r *Reducer) {
	p.mu.Lock()
	p.reducer = r
	p.mu.Unlock()
}

func (p *Pipeline) Reducer() *Reducer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reducer
}

func (p *Pipeline) ReducedDim() int { return p.reducedDim }

// Zero returns the fallback vector.
func (p *Pipeline) Zero() []float64 {
	return make([]float64, p.reducedDim)
}

// ExtractOrZero returns a reduced embedding of exactly ReducedDim floats.
// Nil input, decode failure, backbone failure and timeout all yield the
// zero vector; none of them propagate upward.
func (p *Pipeline) ExtractOrZero(ctx context.Context, imageBytes []byte) []float64 {
	if len(imageBytes) == 0 {
		return p.Zero()
	}
	reducer := p.Reducer()
	if reducer == nil {
		p.log.Warn("no fitted reducer installed, returning zero vector")
		return p.Zero()
	}
	if p.backbone == nil {
		return p.Zero()
	}

	key := p.cacheKey(imageBytes)
	if vec, ok := p.cache.Get(ctx, key); ok && len(vec) == p.reducedDim {
		return vec
	}

	// Concurrent requests for the same photo collapse into one extraction.
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		raw, err := p.backbone.Extract(ctx, imageBytes)
		if err != nil {
			return nil, err
		}
		reduced, err := reducer.Apply(raw)
		if err != nil {
			return nil, err
		}
		p.cache.Set(ctx, key, reduced)
		return reduced, nil
	})
	if err != nil {
		p.log.Warn("image extraction failed, using zero vector", "error", err)
		return p.Zero()
	}
	return v.([]float64)
}

// batchConcurrency bounds the in-flight backbone calls during a corpus embed.
const batchConcurrency = 8

// ExtractRawBatch embeds a training batch without reduction or caching; the
// trainer fits the reducer on exactly these raw vectors. Row order is
// preserved and unreachable images yield nil rows the caller must handle.
func (p *Pipeline) ExtractRawBatch(ctx context.Context, images [][]byte) ([][]float64, int) {
	out := make([][]float64, len(images))
	if p.backbone == nil {
		return out, len(images)
	}

	var failed atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, img := range images {
		if len(img) == 0 {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			raw, err := p.backbone.Extract(gCtx, img)
			if err != nil {
				p.log.Warn("batch extraction failed for row", "row", i, "error", err)
				failed.Add(1)
				return nil
			}
			out[i] = raw
			return nil
		})
	}
	_ = g.Wait()
	return out, int(failed.Load())
}

func (p *Pipeline) cacheKey(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return fmt.Sprintf("%s:%s", p.backbone.ID(), hex.EncodeToString(sum[:]))
}
