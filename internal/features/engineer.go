package features

import (
	"math"

	"github.com/driveline/priceengine/internal/domain"
)

const (
	// depreciationScale controls how front-loaded the age curve is; with
	// exp(-age/6.5) a five-year-old car has lost roughly half its term.
	depreciationScale = 6.5

	// highMileagePerYear is the km/year threshold above which a car is
	// flagged as driven hard.
	highMileagePerYear = 20000.0
)

// Engineer derives the tabular feature vector for one record. It is fitted
// state (Stats + Encoders) plus a pure Vector function: the same record
// always yields the same vector.
type Engineer struct {
	Stats    *Stats    `json:"stats"`
	Encoders *Encoders `json:"encoders"`
}

// Fit builds an Engineer from the training corpus.
func Fit(records []domain.CarRecord) *Engineer {
	makes := make([]string, 0, len(records))
	models := make([]string, 0, len(records))
	trims := make([]string, 0, len(records))
	fuels := make([]string, 0, len(records))
	locations := make([]string, 0, len(records))
	for _, r := range records {
		makes = append(makes, r.Make)
		models = append(models, r.Model)
		trims = append(trims, r.Trim)
		fuels = append(fuels, r.FuelType.String())
		locations = append(locations, r.Location)
	}
	return &Engineer{
		Stats: FitStats(records),
		Encoders: &Encoders{
			Make:     FitLabelEncoder(makes),
			Model:    FitLabelEncoder(models),
			Trim:     FitLabelEncoder(trims),
			Fuel:     FitLabelEncoder(fuels),
			Location: FitLabelEncoder(locations),
		},
	}
}

// ColumnNames returns the engineered column order. The artifact records this
// order and the Prediction Service asserts against it at load time; changing
// it invalidates every serialized model.
func (e *Engineer) ColumnNames() []string {
	return []string{
		"age",
		"depreciation",
		"mileage",
		"mileage_per_year",
		"high_mileage",
		"condition",
		"condition_age",
		"engine_size",
		"cylinders",
		"brand_popularity",
		"popular_model",
		"make_code",
		"model_code",
		"trim_code",
		"fuel_code",
		"location_code",
	}
}

// Vector computes the engineered features for one record, in ColumnNames
// order.
func (e *Engineer) Vector(r domain.CarRecord) []float64 {
	age := r.Age()
	mileagePerYear := float64(r.Mileage) / math.Max(age, 1)
	highMileage := 0.0
	if mileagePerYear > highMileagePerYear {
		highMileage = 1.0
	}
	popular := 0.0
	if e.Stats.IsPopularModel(r.Make, r.Model) {
		popular = 1.0
	}
	cond := r.Condition.Rank()

	return []float64{
		age,
		math.Exp(-age / depreciationScale),
		float64(r.Mileage),
		mileagePerYear,
		highMileage,
		cond,
		cond * age,
		r.EngineSize,
		float64(r.Cylinders),
		e.Stats.Brand(r.Make),
		popular,
		float64(e.Encoders.Make.Encode(r.Make).Value),
		float64(e.Encoders.Model.Encode(r.Model).Value),
		float64(e.Encoders.Trim.Encode(r.Trim).Value),
		float64(e.Encoders.Fuel.Encode(r.FuelType.String()).Value),
		float64(e.Encoders.Location.Encode(r.Location).Value),
	}
}

// Matrix engineers the given corpus rows into a dense row-major matrix.
func (e *Engineer) Matrix(records []domain.CarRecord, idxs []int) [][]float64 {
	out := make([][]float64, len(idxs))
	for i, idx := range idxs {
		out[i] = e.Vector(records[idx])
	}
	return out
}
