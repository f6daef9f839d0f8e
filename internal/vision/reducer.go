package vision

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Reducer is the linear projection from the backbone's raw embedding space
// down to the model's input width. It is fit exactly once, on the training
// corpus, and serialized with the artifact; serve time applies the same
// fitted projection or the dimensions would not align with the model.
type Reducer struct {
	RawDim     int         `json:"raw_dim"`
	ReducedDim int         `json:"reduced_dim"`
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

// FitReducer computes a principal-component projection: mean-center the
// batch and keep the top reducedDim right singular vectors. When the batch
// has fewer rows than reducedDim the trailing components are zero, which
// keeps the output width fixed at reducedDim regardless.
func FitReducer(batch [][]float64, reducedDim int) (*Reducer, error) {
	if len(batch) == 0 {
		return nil, errors.New("reducer: empty batch")
	}
	rawDim := len(batch[0])
	if reducedDim <= 0 || reducedDim > rawDim {
		return nil, fmt.Errorf("reducer: reduced dim %d invalid for raw dim %d", reducedDim, rawDim)
	}

	n := len(batch)
	mean := make([]float64, rawDim)
	for _, row := range batch {
		if len(row) != rawDim {
			return nil, fmt.Errorf("reducer: ragged batch row (want %d, got %d)", rawDim, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	centered := mat.NewDense(n, rawDim, nil)
	for i, row := range batch {
		for j, v := range row {
			centered.Set(i, j, v-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, errors.New("reducer: SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, available := v.Dims()

	components := make([][]float64, reducedDim)
	for i := 0; i < reducedDim; i++ {
		comp := make([]float64, rawDim)
		if i < available {
			for j := 0; j < rawDim; j++ {
				comp[j] = v.At(j, i)
			}
		}
		components[i] = comp
	}

	return &Reducer{
		RawDim:     rawDim,
		ReducedDim: reducedDim,
		Mean:       mean,
		Components: components,
	}, nil
}

// Apply projects one raw embedding into the reduced space.
func (r *Reducer) Apply(raw []float64) ([]float64, error) {
	if len(raw) != r.RawDim {
		return nil, fmt.Errorf("reducer: input dim %d, want %d", len(raw), r.RawDim)
	}
	out := make([]float64, r.ReducedDim)
	for i, comp := range r.Components {
		var dot float64
		for j, v := range raw {
			dot += (v - r.Mean[j]) * comp[j]
		}
		out[i] = dot
	}
	return out, nil
}

// ApplyBatch projects a batch, preserving row order.
func (r *Reducer) ApplyBatch(batch [][]float64) ([][]float64, error) {
	out := make([][]float64, len(batch))
	for i, row := range batch {
		reduced, err := r.Apply(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = reduced
	}
	return out, nil
}
