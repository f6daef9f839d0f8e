package training

import "github.com/driveline/priceengine/internal/domain"

func pick(records []domain.CarRecord, idx []int) []domain.CarRecord {
	out := make([]domain.CarRecord, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

func pickRows(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// pickRawRows selects training rows for the reducer fit, substituting zero
// vectors for rows whose photo was unavailable so the fit sees the same
// zero-fallback distribution serving will.
func pickRawRows(rows [][]float64, idx []int, rawDim int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		if rows[j] != nil {
			out[i] = rows[j]
		} else {
			out[i] = make([]float64, rawDim)
		}
	}
	return out
}

// rawImageDim finds the embedding width from the first non-nil row.
func rawImageDim(rows [][]float64) int {
	for _, r := range rows {
		if r != nil {
			return len(r)
		}
	}
	return 0
}
