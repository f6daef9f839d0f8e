package domain

import (
	"testing"
	"time"
)

func TestParseCondition(t *testing.T) {
	cases := map[string]Condition{
		"good":               ConditionGood,
		"  Excellent ":       ConditionExcellent,
		"very good":          ConditionExcellent,
		"like-new":           ConditionLikeNew,
		"LIKE_NEW":           ConditionLikeNew,
		"cpo":                ConditionLikeNew,
		"brand new":          ConditionNew,
		"parts only":         ConditionSalvage,
		"rough":              ConditionPoor,
		"average":            ConditionFair,
		"":                   ConditionUnknown,
		"something-made-up":  ConditionUnknown,
	}
	for in, want := range cases {
		if got := ParseCondition(in); got != want {
			t.Errorf("ParseCondition(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConditionRankMonotonic(t *testing.T) {
	order := []Condition{ConditionPoor, ConditionFair, ConditionGood, ConditionExcellent, ConditionLikeNew, ConditionNew}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("rank not monotonic: %v (%.1f) <= %v (%.1f)",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if ConditionSalvage.Rank() != ConditionPoor.Rank() {
		t.Errorf("salvage should share the bottom of the scale with poor")
	}
	if ConditionUnknown.Rank() != ConditionGood.Rank() {
		t.Errorf("unknown condition should sit mid-scale, got %.1f", ConditionUnknown.Rank())
	}
}

func TestParseFuelType(t *testing.T) {
	if got := ParseFuelType("petrol"); got != FuelGasoline {
		t.Errorf("petrol = %v, want gasoline", got)
	}
	if got := ParseFuelType("EV"); got != FuelElectric {
		t.Errorf("EV = %v, want electric", got)
	}
	if got := ParseFuelType(""); got != FuelUnknown {
		t.Errorf("empty = %v, want unknown", got)
	}
	if got := ParseFuelType("hydrogen"); got != FuelOther {
		t.Errorf("hydrogen = %v, want other", got)
	}
}

func TestValidate(t *testing.T) {
	year := time.Now().Year()
	rec := CarRecord{Make: "Toyota", Model: "Corolla", Year: year - 5, Mileage: 60000, Price: 15000}
	if err := rec.Validate(true); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	old := rec
	old.Year = 1890
	if err := old.Validate(false); err == nil {
		t.Error("pre-1948 year accepted")
	}

	future := rec
	future.Year = year + 5
	if err := future.Validate(false); err == nil {
		t.Error("far-future year accepted")
	}

	neg := rec
	neg.Mileage = -1
	if err := neg.Validate(false); err == nil {
		t.Error("negative mileage accepted")
	}

	cheap := rec
	cheap.Price = 50
	if err := cheap.Validate(true); err == nil {
		t.Error("sub-floor price accepted with hasPrice")
	}
	if err := cheap.Validate(false); err != nil {
		t.Errorf("price should be ignored without hasPrice: %v", err)
	}
}

func TestAgeClippedAtZero(t *testing.T) {
	rec := CarRecord{Year: time.Now().Year() + 1}
	if got := rec.Age(); got != 0 {
		t.Errorf("next-year model age = %.1f, want 0", got)
	}
	rec.Year = time.Now().Year() - 3
	if got := rec.Age(); got != 3 {
		t.Errorf("age = %.1f, want 3", got)
	}
}

func TestImageFeaturesWidthInvariant(t *testing.T) {
	f := NewImageFeatures("car-1", []float64{1, 2}, "resnet", 4)
	if len(f.Vector) != 4 {
		t.Fatalf("vector len = %d, want 4", len(f.Vector))
	}
	if f.IsZero() {
		t.Error("padded vector with data reported as zero")
	}

	long := NewImageFeatures("car-2", []float64{1, 2, 3, 4, 5}, "resnet", 3)
	if len(long.Vector) != 3 {
		t.Fatalf("truncated vector len = %d, want 3", len(long.Vector))
	}

	zero := NewImageFeatures("car-3", nil, "resnet", 4)
	if !zero.IsZero() {
		t.Error("nil-sourced vector should be zero")
	}
}
