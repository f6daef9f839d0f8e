package features

import (
	"sort"

	"github.com/driveline/priceengine/internal/domain"
)

// Stats carries the corpus-derived lookups computed once at training time.
// Serve time only reads them; an unseen make/model gets the neutral
// defaults rather than an error.
type Stats struct {
	// BrandPopularity is each make's share of the corpus.
	BrandPopularity map[string]float64 `json:"brand_popularity"`

	// PopularModels marks make+model pairs in the top frequency quartile.
	PopularModels map[string]bool `json:"popular_models"`

	// NeutralPopularity is the fallback score for unseen makes (the median
	// of the fitted popularity values).
	NeutralPopularity float64 `json:"neutral_popularity"`
}

func FitStats(records []domain.CarRecord) *Stats {
	total := float64(len(records))
	brandCounts := map[string]int{}
	modelCounts := map[string]int{}
	for _, r := range records {
		brandCounts[normalize(r.Make)]++
		modelCounts[modelKey(r.Make, r.Model)]++
	}

	s := &Stats{
		BrandPopularity: make(map[string]float64, len(brandCounts)),
		PopularModels:   make(map[string]bool, len(modelCounts)),
	}
	pops := make([]float64, 0, len(brandCounts))
	for brand, n := range brandCounts {
		p := float64(n) / total
		s.BrandPopularity[brand] = p
		pops = append(pops, p)
	}
	sort.Float64s(pops)
	if len(pops) > 0 {
		s.NeutralPopularity = pops[len(pops)/2]
	}

	counts := make([]int, 0, len(modelCounts))
	for _, n := range modelCounts {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	threshold := 0
	if len(counts) > 0 {
		threshold = counts[len(counts)*3/4]
	}
	for key, n := range modelCounts {
		if n >= threshold && threshold > 0 {
			s.PopularModels[key] = true
		}
	}
	return s
}

func (s *Stats) Brand(mk string) float64 {
	if p, ok := s.BrandPopularity[normalize(mk)]; ok {
		return p
	}
	return s.NeutralPopularity
}

func (s *Stats) IsPopularModel(mk, model string) bool {
	return s.PopularModels[modelKey(mk, model)]
}

func modelKey(mk, model string) string {
	return normalize(mk) + "\x00" + normalize(model)
}
