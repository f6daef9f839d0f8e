package dataset

import (
	"math/rand"
	"strings"

	"github.com/driveline/priceengine/internal/domain"
)

// RecordSet is the immutable, loaded view of the corpus. It is shared across
// goroutines without locking; nothing mutates it after construction.
type RecordSet struct {
	records []domain.CarRecord

	// byMakeModel indexes row positions for comparable lookups.
	byMakeModel map[string][]int
}

func newRecordSet(records []domain.CarRecord) *RecordSet {
	idx := make(map[string][]int)
	for i, r := range records {
		k := comparableKey(r.Make, r.Model)
		idx[k] = append(idx[k], i)
	}
	return &RecordSet{records: records, byMakeModel: idx}
}

// NewRecordSet builds a set directly from records. Intended for tests and
// for training-time fixtures; production loading goes through Loader.
func NewRecordSet(records []domain.CarRecord) *RecordSet {
	return newRecordSet(records)
}

func (s *RecordSet) Len() int { return len(s.records) }

// Records returns the backing slice. Callers must treat it as read-only.
func (s *RecordSet) Records() []domain.CarRecord { return s.records }

// Comparables returns all corpus rows with the same make and model,
// case-insensitively. Year/mileage banding is the Market Validator's job.
func (s *RecordSet) Comparables(mk, model string) []domain.CarRecord {
	idxs := s.byMakeModel[comparableKey(mk, model)]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]domain.CarRecord, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.records[i])
	}
	return out
}

// Split partitions row indices into train/validation with a seeded shuffle,
// so the same seed always yields the same split.
func (s *RecordSet) Split(holdoutFrac float64, seed int64) (train, val []int) {
	n := len(s.records)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	cut := n - int(float64(n)*holdoutFrac)
	if cut <= 0 {
		cut = 1
	}
	if cut >= n && n > 1 {
		cut = n - 1
	}
	train = append([]int(nil), perm[:cut]...)
	val = append([]int(nil), perm[cut:]...)
	return train, val
}

func comparableKey(mk, model string) string {
	return strings.ToLower(strings.TrimSpace(mk)) + "\x00" + strings.ToLower(strings.TrimSpace(model))
}
