package model

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes the tabular feature block to zero mean, unit variance.
// It is fit on training rows only and serialized into the artifact; image
// embedding columns never pass through it (the reduction step already
// calibrates that space).
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes column statistics over a row-major matrix.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("scaler: no rows")
	}
	width := len(rows[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}

	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			// Constant columns pass through unshifted so a degenerate
			// corpus cannot divide by zero.
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s, nil
}

// Apply returns a scaled copy of x.
func (s *Scaler) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i < len(s.Mean) {
			out[i] = (v - s.Mean[i]) / s.Std[i]
		} else {
			out[i] = v
		}
	}
	return out
}

// ApplyAll scales every row in place-order, returning new slices.
func (s *Scaler) ApplyAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Apply(row)
	}
	return out
}
