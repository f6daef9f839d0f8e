package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/platform/logger"
)

// ErrUnavailable means the corpus cannot be loaded at all: missing file,
// empty file, unreadable contents, or required columns absent. Training
// cannot start without it.
var ErrUnavailable = errors.New("dataset unavailable")

var requiredColumns = []string{"make", "model", "year", "mileage", "price"}

// Loader reads the tabular corpus once per process and hands every caller
// the same immutable view.
type Loader struct {
	log  *logger.Logger
	path string

	once sync.Once
	set  *RecordSet
	err  error
}

func NewLoader(log *logger.Logger, path string) *Loader {
	return &Loader{
		log:  log.With("service", "DatasetLoader"),
		path: path,
	}
}

// Load parses the corpus on first call and caches the result; later callers
// (and the first caller's concurrent peers) share the same RecordSet.
func (l *Loader) Load(ctx context.Context) (*RecordSet, error) {
	l.once.Do(func() {
		l.set, l.err = l.load(ctx)
	})
	return l.set, l.err
}

func (l *Loader) load(ctx context.Context) (*RecordSet, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrUnavailable, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %v", ErrUnavailable, missing)
	}

	var (
		records []domain.CarRecord
		drops   = map[string]int{}
		rowNum  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			drops["malformed_row"]++
			continue
		}
		rowNum++

		rec, reason := parseRow(row, cols)
		if reason != "" {
			drops[reason]++
			continue
		}
		if err := rec.Validate(true); err != nil {
			drops["validation:"+firstWord(err.Error())]++
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no valid rows in %s", ErrUnavailable, l.path)
	}

	dropped := 0
	for reason, n := range drops {
		dropped += n
		l.log.Warn("dropped corpus rows", "reason", reason, "count", n)
	}
	l.log.Info("corpus loaded", "path", l.path, "rows", len(records), "dropped", dropped)

	return newRecordSet(records), nil
}

func parseRow(row []string, cols map[string]int) (domain.CarRecord, string) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := domain.CarRecord{
		Make:      get("make"),
		Model:     get("model"),
		Trim:      get("trim"),
		Condition: domain.ParseCondition(get("condition")),
		FuelType:  domain.ParseFuelType(get("fuel_type")),
		Location:  get("location"),
	}
	if rec.Make == "" || rec.Model == "" {
		return rec, "missing_make_model"
	}

	year, err := strconv.Atoi(get("year"))
	if err != nil {
		return rec, "bad_year"
	}
	rec.Year = year

	mileage, err := strconv.Atoi(strings.ReplaceAll(get("mileage"), ",", ""))
	if err != nil {
		return rec, "bad_mileage"
	}
	rec.Mileage = mileage

	price, err := parsePrice(get("price"))
	if err != nil {
		return rec, "bad_price"
	}
	rec.Price = price

	if v := get("engine_size"); v != "" {
		if es, err := strconv.ParseFloat(v, 64); err == nil {
			rec.EngineSize = es
		}
	}
	if v := get("cylinders"); v != "" {
		if cyl, err := strconv.Atoi(v); err == nil {
			rec.Cylinders = cyl
		}
	}

	return rec, ""
}

// parsePrice strips currency glyphs and thousands separators; marketplace
// exports are not consistent about either.
func parsePrice(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return 0, errors.New("empty price")
	}
	return strconv.ParseFloat(cleaned, 64)
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
