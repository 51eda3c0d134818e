package domain

import (
	"math"
	"testing"
	"time"
)

func TestPeriodKeys(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	if got := DailyPeriod(ts); got != "daily:2026-03-09" {
		t.Errorf("DailyPeriod() = %s", got)
	}
	if got := MonthlyPeriod(ts); got != "monthly:2026-03" {
		t.Errorf("MonthlyPeriod() = %s", got)
	}
}

func TestProviderProfileCosts(t *testing.T) {
	t.Parallel()

	llm := ProviderProfile{Name: "llm", InputRate: 0.001, OutputRate: 0.002}
	chars := ProviderProfile{Name: "mt", CharRate: 0.0001}

	if got := llm.EstimateCost(100, 400); !approx(got, 0.1) {
		t.Errorf("llm EstimateCost() = %v", got)
	}
	if got := chars.EstimateCost(100, 400); !approx(got, 0.04) {
		t.Errorf("char EstimateCost() = %v", got)
	}
	if got := llm.ActualCost(100, 50, 0); !approx(got, 0.2) {
		t.Errorf("llm ActualCost() = %v", got)
	}
	if chars.UnitCost() >= llm.UnitCost() {
		t.Errorf("expected char provider to rank cheaper: %v vs %v", chars.UnitCost(), llm.UnitCost())
	}
}

func TestProviderProfileWithCaps(t *testing.T) {
	t.Parallel()

	p := ProviderProfile{Name: "a", InputRate: 1, DailyCap: 5}
	next := p.WithCaps(ProviderProfile{Name: "ignored", InputRate: 9, DailyCap: 10, DailyRequestLimit: 7})

	if next.Name != "a" || next.InputRate != 1 {
		t.Errorf("WithCaps changed pricing: %+v", next)
	}
	if next.DailyCap != 10 || next.DailyRequestLimit != 7 {
		t.Errorf("WithCaps did not apply caps: %+v", next)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
