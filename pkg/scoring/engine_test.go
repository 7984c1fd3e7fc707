package scoring

import (
	"reflect"
	"testing"

	"github.com/asterion-health/platform/pkg/instrument"
)

func eightItemDef() instrument.Definition {
	na := 8
	return instrument.Definition{
		ID:       "walk8",
		Items:    []string{"item1", "item2", "item3", "item4", "item5", "item6", "item7", "item8"},
		ScaleMin: 1,
		ScaleMax: 6,
		NAValue:  &na,
		Mode:     instrument.ModeNormalized,
		Total:    instrument.TotalAllItems,
		Domains: map[string][]string{
			"mobility": {"item1", "item2", "item3", "item4", "item5", "item6", "item7", "item8"},
		},
	}
}

func answersOf(def instrument.Definition, value int) map[string]int {
	out := make(map[string]int, len(def.Items))
	for _, item := range def.Items {
		out[item] = value
	}
	return out
}

func TestNormalizedBestCaseScoresHundred(t *testing.T) {
	def := eightItemDef()
	result := Score(def, answersOf(def, 6))

	ds := result.DomainScores["mobility"]
	if ds == nil {
		t.Fatal("expected mobility score")
	}
	if ds.Score != 100.0 {
		t.Fatalf("expected 100.0, got %v", ds.Score)
	}
	if result.Total == nil || *result.Total != 100.0 {
		t.Fatalf("expected total 100.0, got %v", result.Total)
	}
}

func TestNormalizedWorstCaseScoresZero(t *testing.T) {
	def := eightItemDef()
	result := Score(def, answersOf(def, 1))

	ds := result.DomainScores["mobility"]
	if ds == nil || ds.Score != 0.0 {
		t.Fatalf("expected 0.0, got %+v", ds)
	}
}

func TestNotApplicableExcludedFromCountAndSum(t *testing.T) {
	def := eightItemDef()
	answers := answersOf(def, 6)
	answers["item1"] = 8 // NA sentinel
	answers["item2"] = 8

	result := Score(def, answers)
	ds := result.DomainScores["mobility"]
	// 6 valid answers of 6: (36-6)*100/(5*6) = 100
	if ds == nil || ds.Score != 100.0 {
		t.Fatalf("expected 100.0 over valid items, got %+v", ds)
	}
}

func TestDomainWithNoValidAnswersIsNil(t *testing.T) {
	def := eightItemDef()
	answers := answersOf(def, 8) // everything NA

	result := Score(def, answers)
	if result.DomainScores["mobility"] != nil {
		t.Fatalf("expected nil domain score, got %+v", result.DomainScores["mobility"])
	}
	if result.Total != nil {
		t.Fatalf("expected nil total, got %v", *result.Total)
	}
}

func TestNormalizationBounds(t *testing.T) {
	def := eightItemDef()
	// Every single-value fill must land in [0, 100].
	for v := 1; v <= 6; v++ {
		result := Score(def, answersOf(def, v))
		ds := result.DomainScores["mobility"]
		if ds == nil {
			t.Fatalf("value %d: expected score", v)
		}
		if ds.Score < 0 || ds.Score > 100 {
			t.Fatalf("value %d: score %v out of bounds", v, ds.Score)
		}
	}
}

func TestReversedItemPolarity(t *testing.T) {
	def := eightItemDef()
	def.Reversed = []string{"item1"}

	answers := answersOf(def, 6)
	answers["item1"] = 1 // reversed: contributes as 7-1 = 6

	result := Score(def, answers)
	ds := result.DomainScores["mobility"]
	if ds == nil || ds.Score != 100.0 {
		t.Fatalf("expected reversal to restore best case, got %+v", ds)
	}
}

func TestReversedNAStaysExcluded(t *testing.T) {
	def := eightItemDef()
	def.Reversed = []string{"item1"}

	answers := answersOf(def, 6)
	answers["item1"] = 8

	result := Score(def, answers)
	ds := result.DomainScores["mobility"]
	if ds == nil || ds.Score != 100.0 {
		t.Fatalf("expected NA excluded before reversal, got %+v", ds)
	}
}

func TestAdditiveSectionSums(t *testing.T) {
	def := instrument.Definition{
		ID:       "phq9",
		Items:    []string{"phq1", "phq2", "phq3", "phq4", "phq5", "phq6", "phq7", "phq8", "phq9"},
		ScaleMin: 0,
		ScaleMax: 3,
		Mode:     instrument.ModeAdditive,
		Total:    instrument.TotalSectionSum,
		Domains: map[string][]string{
			"depression": {"phq1", "phq2", "phq3", "phq4", "phq5", "phq6", "phq7", "phq8", "phq9"},
		},
	}

	answers := map[string]int{}
	for _, item := range def.Items {
		answers[item] = 2
	}

	result := Score(def, answers)
	ds := result.DomainScores["depression"]
	if ds == nil || ds.Score != 18 {
		t.Fatalf("expected additive sum 18, got %+v", ds)
	}
	if ds.MaxPossible != 27 {
		t.Fatalf("expected max 27, got %v", ds.MaxPossible)
	}
	if result.Total == nil || *result.Total != 18 {
		t.Fatalf("expected total 18, got %v", result.Total)
	}
}

func TestOverlappingDomainsScoreIndependently(t *testing.T) {
	def := eightItemDef()
	def.Domains = map[string][]string{
		"front": {"item1", "item2", "item3", "item4"},
		"back":  {"item3", "item4", "item5", "item6"}, // overlaps front
	}

	answers := map[string]int{
		"item1": 6, "item2": 6, "item3": 1, "item4": 1,
		"item5": 6, "item6": 6,
	}
	result := Score(def, answers)

	front := result.DomainScores["front"]
	back := result.DomainScores["back"]
	if front == nil || back == nil {
		t.Fatal("expected both domains scored")
	}
	// front: sum=14, valid=4 -> (14-4)*100/20 = 50; back identical.
	if front.Score != 50.0 || back.Score != 50.0 {
		t.Fatalf("expected 50.0/50.0, got %v/%v", front.Score, back.Score)
	}
}

func TestScoringIsIdempotent(t *testing.T) {
	def := eightItemDef()
	answers := map[string]int{
		"item1": 3, "item2": 5, "item3": 8, "item4": 1,
		"item5": 6, "item6": 2, "item7": 4, "item8": 4,
	}

	first := Score(def, answers)
	second := Score(def, answers)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v vs %+v", first, second)
	}
}

func TestOutOfRangeValuesExcluded(t *testing.T) {
	def := eightItemDef()
	answers := answersOf(def, 6)
	answers["item1"] = 42 // not NA, not in scale

	result := Score(def, answers)
	ds := result.DomainScores["mobility"]
	if ds == nil || ds.Score != 100.0 {
		t.Fatalf("expected out-of-range value skipped, got %+v", ds)
	}
}
