package domain

import (
	"fmt"
	"strings"
	"time"
)

// Condition is the seller-declared state of the vehicle. The ordering is
// load-bearing: Rank() feeds the model as an ordinal, so values must stay
// monotonic from worst to best.
type Condition int

const (
	ConditionUnknown Condition = iota
	ConditionSalvage
	ConditionPoor
	ConditionFair
	ConditionGood
	ConditionExcellent
	ConditionLikeNew
	ConditionNew
)

var conditionNames = map[Condition]string{
	ConditionSalvage:   "salvage",
	ConditionPoor:      "poor",
	ConditionFair:      "fair",
	ConditionGood:      "good",
	ConditionExcellent: "excellent",
	ConditionLikeNew:   "like_new",
	ConditionNew:       "new",
}

func (c Condition) String() string {
	if s, ok := conditionNames[c]; ok {
		return s
	}
	return "unknown"
}

// Rank maps the condition onto the ordinal scale Poor=0..New=6 the model
// consumes. Salvage sits at the bottom of the scale; Unknown is treated as
// mid-scale so a missing value does not drag the estimate down.
func (c Condition) Rank() float64 {
	switch c {
	case ConditionSalvage, ConditionPoor:
		return 0
	case ConditionFair:
		return 1.5
	case ConditionGood:
		return 3
	case ConditionExcellent:
		return 4.5
	case ConditionLikeNew:
		return 5.5
	case ConditionNew:
		return 6
	default:
		return 3
	}
}

func ParseCondition(s string) Condition {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "-", " "), "_", " "))) {
	case "salvage", "parts only":
		return ConditionSalvage
	case "poor", "rough":
		return ConditionPoor
	case "fair", "average":
		return ConditionFair
	case "good":
		return ConditionGood
	case "excellent", "very good":
		return ConditionExcellent
	case "like new", "likenew", "certified pre owned", "cpo":
		return ConditionLikeNew
	case "new", "brand new":
		return ConditionNew
	default:
		return ConditionUnknown
	}
}

type FuelType int

const (
	FuelUnknown FuelType = iota
	FuelGasoline
	FuelDiesel
	FuelHybrid
	FuelElectric
	FuelLPG
	FuelOther
)

var fuelNames = map[FuelType]string{
	FuelGasoline: "gasoline",
	FuelDiesel:   "diesel",
	FuelHybrid:   "hybrid",
	FuelElectric: "electric",
	FuelLPG:      "lpg",
	FuelOther:    "other",
}

func (f FuelType) String() string {
	if s, ok := fuelNames[f]; ok {
		return s
	}
	return "unknown"
}

func ParseFuelType(s string) FuelType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gas", "gasoline", "petrol", "benzine":
		return FuelGasoline
	case "diesel":
		return FuelDiesel
	case "hybrid", "phev":
		return FuelHybrid
	case "electric", "ev", "bev":
		return FuelElectric
	case "lpg", "cng":
		return FuelLPG
	case "":
		return FuelUnknown
	default:
		return FuelOther
	}
}

const (
	// MinYear is the oldest model year the corpus accepts.
	MinYear = 1948

	// MinPrice / MaxPrice bound the training target post-cleaning. MinPrice
	// doubles as the serve-time floor on predictions.
	MinPrice = 100.0
	MaxPrice = 300000.0
)

// CarRecord is one vehicle, either a training-corpus row (Price set) or a
// serve-time request (Price zero and ignored).
type CarRecord struct {
	Make       string    `json:"make"`
	Model      string    `json:"model"`
	Trim       string    `json:"trim,omitempty"`
	Year       int       `json:"year"`
	Mileage    int       `json:"mileage"`
	Condition  Condition `json:"-"`
	FuelType   FuelType  `json:"-"`
	EngineSize float64   `json:"engine_size,omitempty"`
	Cylinders  int       `json:"cylinders,omitempty"`
	Location   string    `json:"location,omitempty"`
	Price      float64   `json:"price,omitempty"`
}

// Validate checks the structural invariants shared by training rows and
// serve-time requests. hasPrice additionally enforces the target bounds.
func (r *CarRecord) Validate(hasPrice bool) error {
	maxYear := time.Now().Year() + 1
	if r.Year < MinYear || r.Year > maxYear {
		return fmt.Errorf("year %d outside [%d, %d]", r.Year, MinYear, maxYear)
	}
	if r.Mileage < 0 {
		return fmt.Errorf("negative mileage %d", r.Mileage)
	}
	if hasPrice && (r.Price < MinPrice || r.Price > MaxPrice) {
		return fmt.Errorf("price %.2f outside [%.0f, %.0f]", r.Price, MinPrice, MaxPrice)
	}
	return nil
}

// Age is years since the model year, clipped at zero (next-year models show
// up on lots before January).
func (r *CarRecord) Age() float64 {
	age := float64(time.Now().Year() - r.Year)
	if age < 0 {
		return 0
	}
	return age
}
