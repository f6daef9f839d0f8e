package market

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/platform/logger"
)

const (
	// mileageBandFrac widens the comparable mileage window to ±50% of the
	// target's odometer, with a floor so near-new cars still find peers.
	mileageBandFrac    = 0.5
	mileageBandMinKM = 20000

	// minComparableCount is a confidence floor, not a cap gate: thinner
	// comparable sets still clamp the estimate but carry a warning.
	minComparableCount = 3
)

// Validator sanity-checks a raw model estimate against comparable corpus
// rows before it reaches a user. An unchecked multi-fold overshoot is the
// single most damaging failure mode for trust in the estimate, so estimates
// outside the tolerance band are clamped, never passed through silently.
type Validator struct {
	log       *logger.Logger
	corpus    *dataset.RecordSet
	tolerance float64
	yearBand  int
}

func NewValidator(log *logger.Logger, corpus *dataset.RecordSet, cfg config.MarketConfig) *Validator {
	return &Validator{
		log:       log.With("service", "MarketValidator"),
		corpus:    corpus,
		tolerance: cfg.TolerancePct,
		yearBand:  cfg.YearWindow,
	}
}

// Validate compares the estimate to comparable records and returns the
// (possibly clamped) estimate plus the comparison summary and warnings.
// The band cap applies whenever at least one comparable exists; only a
// record with zero comparables passes through unchecked.
func (v *Validator) Validate(estimate float64, rec domain.CarRecord) (float64, domain.MarketComparison, []domain.Warning) {
	comps := v.comparables(rec)
	if len(comps) == 0 {
		return estimate, domain.MarketComparison{}, []domain.Warning{{
			Code:    domain.WarnNoMarketData,
			Message: fmt.Sprintf("no market data for %s %s; estimate is model-only", rec.Make, rec.Model),
		}}
	}

	prices := make([]float64, len(comps))
	for i, c := range comps {
		prices[i] = c.Price
	}
	sort.Float64s(prices)

	summary := domain.MarketComparison{
		ComparableCount: len(comps),
		MedianPrice:     stat.Quantile(0.5, stat.Empirical, prices, nil),
		AveragePrice:    stat.Mean(prices, nil),
	}
	summary.DeltaPct = 100 * (estimate - summary.AveragePrice) / summary.AveragePrice

	var warnings []domain.Warning
	if len(comps) < minComparableCount {
		warnings = append(warnings, domain.Warning{
			Code: domain.WarnLowComparableCount,
			Message: fmt.Sprintf("only %d comparable listings for %s %s; market band is low-confidence",
				len(comps), rec.Make, rec.Model),
		})
	}

	upper := summary.AveragePrice * (1 + v.tolerance)
	lower := summary.AveragePrice * (1 - v.tolerance)

	switch {
	case estimate > upper:
		v.log.Warn("estimate capped to market band",
			"make", rec.Make, "model", rec.Model,
			"estimate", estimate, "cap", upper, "comparables", len(comps),
		)
		warnings = append(warnings, domain.Warning{
			Code: domain.WarnOutlierCapped,
			Message: fmt.Sprintf("estimate $%.0f exceeded the comparable average $%.0f by %.0f%%; adjusted to $%.0f",
				estimate, summary.AveragePrice, summary.DeltaPct, upper),
		})
		return upper, summary, warnings
	case estimate < lower:
		v.log.Warn("estimate raised to market band",
			"make", rec.Make, "model", rec.Model,
			"estimate", estimate, "floor", lower, "comparables", len(comps),
		)
		warnings = append(warnings, domain.Warning{
			Code: domain.WarnOutlierCapped,
			Message: fmt.Sprintf("estimate $%.0f fell below the comparable average $%.0f by %.0f%%; adjusted to $%.0f",
				estimate, summary.AveragePrice, -summary.DeltaPct, lower),
		})
		return lower, summary, warnings
	default:
		return estimate, summary, warnings
	}
}

// comparables finds corpus rows with the same make/model inside the year
// and mileage bands.
func (v *Validator) comparables(rec domain.CarRecord) []domain.CarRecord {
	candidates := v.corpus.Comparables(rec.Make, rec.Model)
	if len(candidates) == 0 {
		return nil
	}

	mileageBand := math.Max(float64(rec.Mileage)*mileageBandFrac, mileageBandMinKM)
	var out []domain.CarRecord
	for _, c := range candidates {
		if abs(c.Year-rec.Year) > v.yearBand {
			continue
		}
		if math.Abs(float64(c.Mileage-rec.Mileage)) > mileageBand {
			continue
		}
		out = append(out, c)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
