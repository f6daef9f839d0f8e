package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics are the validation scores recorded with every artifact. RMSE is
// load-bearing at serve time: the confidence interval is derived from it.
type Metrics struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"`
}

// Evaluate scores predictions against actuals.
func Evaluate(predicted, actual []float64) Metrics {
	n := len(actual)
	if n == 0 || len(predicted) != n {
		return Metrics{}
	}

	var sqSum, absSum, pctSum float64
	pctN := 0
	for i := 0; i < n; i++ {
		d := predicted[i] - actual[i]
		sqSum += d * d
		absSum += math.Abs(d)
		if actual[i] != 0 {
			pctSum += math.Abs(d / actual[i])
			pctN++
		}
	}

	m := Metrics{
		R2:   stat.RSquaredFrom(predicted, actual, nil),
		RMSE: math.Sqrt(sqSum / float64(n)),
		MAE:  absSum / float64(n),
	}
	if pctN > 0 {
		m.MAPE = 100 * pctSum / float64(pctN)
	}
	return m
}

// Better reports whether m beats other under the selection rule: higher R²,
// ties broken by lower RMSE.
func (m Metrics) Better(other Metrics) bool {
	if m.R2 != other.R2 {
		return m.R2 > other.R2
	}
	return m.RMSE < other.RMSE
}
