package domain

// Warning codes attached to a PredictionResult. These are advisory; an
// estimate is still returned alongside them.
const (
	WarnNoMarketData       = "no_market_data"
	WarnOutlierCapped      = "outlier_capped"
	WarnLowComparableCount = "low_comparable_count"
)

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarketComparison summarizes the comparable training-corpus rows the
// estimate was validated against.
type MarketComparison struct {
	ComparableCount int     `json:"comparable_count"`
	MedianPrice     float64 `json:"median_price,omitempty"`
	AveragePrice    float64 `json:"average_price,omitempty"`

	// DeltaPct is the signed percent difference between the (pre-cap)
	// estimate and the comparable average.
	DeltaPct float64 `json:"delta_pct,omitempty"`
}

// ImageFeatures is a fixed-width embedding for one car's photograph. A car
// without a usable photo carries the zero vector, never a missing row.
type ImageFeatures struct {
	CarID       string    `json:"car_id,omitempty"`
	Vector      []float64 `json:"vector"`
	ExtractorID string    `json:"extractor_id,omitempty"`
}

// NewImageFeatures builds a features value, padding or truncating to dim so
// the width invariant holds regardless of the source.
func NewImageFeatures(carID string, vec []float64, extractorID string, dim int) ImageFeatures {
	out := make([]float64, dim)
	copy(out, vec)
	return ImageFeatures{CarID: carID, Vector: out, ExtractorID: extractorID}
}

// IsZero reports whether the vector is the all-zero fallback.
func (f ImageFeatures) IsZero() bool {
	for _, v := range f.Vector {
		if v != 0 {
			return false
		}
	}
	return true
}

// PredictionResult is the full priced answer handed back to the marketplace.
type PredictionResult struct {
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`

	Market   MarketComparison `json:"market"`
	Warnings []Warning        `json:"warnings"`

	ModelVersion string `json:"model_version"`
	Algorithm    string `json:"algorithm"`
	ImageUsed    bool   `json:"image_used"`
}
