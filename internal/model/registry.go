package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// ErrNoUsableModel means every artifact in the fallback chain failed to
// load. The serving process cannot function without one, so callers should
// treat this as fatal and loud.
var ErrNoUsableModel = errors.New("no usable model artifact")

// Registry locates and caches the newest loadable artifact. It is an
// explicit, injectable object (not package-level state) so tests get a
// fresh registry per test.
type Registry struct {
	log *logger.Logger
	dir string

	group singleflight.Group

	mu     sync.RWMutex
	active *Artifact
}

func NewRegistry(log *logger.Logger, dir string) *Registry {
	return &Registry{
		log: log.With("service", "ModelRegistry"),
		dir: dir,
	}
}

// LoadActive walks the version chain newest-first and returns the first
// artifact that loads and passes integrity checks. The winner is cached for
// the process lifetime; concurrent first callers collapse onto one load.
func (r *Registry) LoadActive(ctx context.Context) (*Artifact, error) {
	r.mu.RLock()
	if a := r.active; a != nil {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("active", func() (interface{}, error) {
		r.mu.RLock()
		cached := r.active
		r.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		a, err := r.loadChain(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.active = a
		r.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (r *Registry) loadChain(ctx context.Context) (*Artifact, error) {
	tags, err := ListVersions(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrNoUsableModel, r.dir, err)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: no artifacts in %s", ErrNoUsableModel, r.dir)
	}

	var lastErr error
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := LoadArtifact(r.dir, tag)
		if err != nil {
			lastErr = err
			r.log.Warn("skipping unloadable artifact", "version", tag, "error", err)
			continue
		}
		r.log.Info("active model loaded",
			"version", a.Version,
			"algorithm", a.Algorithm,
			"image_modality", a.ImageModality,
			"r2", a.Metrics.R2,
		)
		return a, nil
	}
	return nil, fmt.Errorf("%w: all %d versions failed, last: %v", ErrNoUsableModel, len(tags), lastErr)
}

// ActiveVersion reports the cached artifact's version, or "" before the
// first successful load.
func (r *Registry) ActiveVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return ""
	}
	return r.active.Version
}
