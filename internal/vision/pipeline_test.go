package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/driveline/priceengine/internal/platform/logger"
)

type fakeBackbone struct {
	calls int
	vec   []float64
	err   error
}

func (f *fakeBackbone) Extract(context.Context, []byte) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeBackbone) ID() string  { return "fake" }
func (f *fakeBackbone) RawDim() int { return len(f.vec) }

func fittedReducer(t *testing.T, rawDim, reducedDim int) *Reducer {
	t.Helper()
	r, err := FitReducer(randomBatch(12, rawDim, 9), reducedDim)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestExtractOrZeroWithoutReducer(t *testing.T) {
	bb := &fakeBackbone{vec: []float64{1, 2, 3, 4}}
	p := NewPipeline(logger.NewNop(), bb, nil, 2)

	vec := p.ExtractOrZero(context.Background(), []byte("img"))
	if len(vec) != 2 {
		t.Fatalf("len = %d, want reduced dim 2", len(vec))
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("expected zero vector before a reducer is installed")
		}
	}
	if bb.calls != 0 {
		t.Error("backbone called without a reducer")
	}
}

func TestExtractOrZeroSuccessAndCache(t *testing.T) {
	bb := &fakeBackbone{vec: []float64{1, 2, 3, 4}}
	p := NewPipeline(logger.NewNop(), bb, nil, 2)
	p.SetReducer(fittedReducer(t, 4, 2))

	first := p.ExtractOrZero(context.Background(), []byte("photo-a"))
	if len(first) != 2 {
		t.Fatalf("len = %d, want 2", len(first))
	}
	second := p.ExtractOrZero(context.Background(), []byte("photo-a"))
	if bb.calls != 1 {
		t.Fatalf("backbone called %d times for the same content, want 1", bb.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cache returned a different vector")
		}
	}

	// Different content misses the cache.
	p.ExtractOrZero(context.Background(), []byte("photo-b"))
	if bb.calls != 2 {
		t.Fatalf("backbone called %d times for new content, want 2", bb.calls)
	}
}

func TestExtractOrZeroFailuresYieldZero(t *testing.T) {
	bb := &fakeBackbone{vec: []float64{1, 2, 3, 4}, err: errors.New("upstream down")}
	p := NewPipeline(logger.NewNop(), bb, nil, 3)
	p.SetReducer(fittedReducer(t, 4, 3))

	for _, input := range [][]byte{nil, {}, []byte("broken")} {
		vec := p.ExtractOrZero(context.Background(), input)
		if len(vec) != 3 {
			t.Fatalf("len = %d, want 3", len(vec))
		}
		for _, v := range vec {
			if v != 0 {
				t.Fatal("failure must yield the zero vector")
			}
		}
	}
}

func TestExtractRawBatch(t *testing.T) {
	bb := &fakeBackbone{vec: []float64{1, 2, 3, 4}}
	p := NewPipeline(logger.NewNop(), bb, nil, 2)

	rows, failed := p.ExtractRawBatch(context.Background(), [][]byte{[]byte("a"), nil, []byte("c")})
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if rows[0] == nil || rows[1] != nil || rows[2] == nil {
		t.Fatalf("row placement wrong: %v", rows)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("hit on empty cache")
	}
	c.Set(context.Background(), "k", []float64{1, 2})
	vec, ok := c.Get(context.Background(), "k")
	if !ok || len(vec) != 2 || vec[0] != 1 {
		t.Fatalf("got %v %v", vec, ok)
	}
}
