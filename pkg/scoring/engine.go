package scoring

import (
	"math"
	"sort"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/asterion-health/platform/pkg/instrument"
)

// Score turns raw item answers into domain scores and a total for one
// instrument. Pure and deterministic: the same input always yields the
// same output, so results are recomputable for audit.
func Score(def instrument.Definition, answers map[string]int) models.ScoreResult {
	result := models.ScoreResult{
		DomainScores: make(map[string]*models.DomainScore, len(def.Domains)),
	}

	for domain, items := range def.Domains {
		switch def.Mode {
		case instrument.ModeAdditive:
			result.DomainScores[domain] = additiveScore(def, items, answers)
		default:
			result.DomainScores[domain] = normalizedScore(def, items, answers)
		}
	}

	result.Total = totalScore(def, answers, result.DomainScores)
	return result
}

// normalizedScore rescales a 1-6-style response scale (scale min = worst)
// to 0-100 (0 = worst). Items answered with the not-applicable sentinel
// are excluded from both the count and the sum; a domain with no valid
// answers has no score at all.
func normalizedScore(def instrument.Definition, items []string, answers map[string]int) *models.DomainScore {
	sum, valid := collect(def, items, answers)
	if valid == 0 {
		return nil
	}

	span := def.ScaleMax - def.ScaleMin
	score := float64(sum-valid*def.ScaleMin) * 100 / float64(span*valid)
	score = round1(clamp(score, 0, 100))

	return &models.DomainScore{
		Score:       score,
		MaxPossible: 100,
		Percent:     score,
	}
}

// additiveScore is the plain section-sum mode: no normalization, the
// domain score is the sum of valid raw values.
func additiveScore(def instrument.Definition, items []string, answers map[string]int) *models.DomainScore {
	sum, valid := collect(def, items, answers)
	if valid == 0 {
		return nil
	}

	maxPossible := float64(len(items) * def.ScaleMax)
	percent := 0.0
	if maxPossible > 0 {
		percent = round1(float64(sum) * 100 / maxPossible)
	}

	return &models.DomainScore{
		Score:       float64(sum),
		MaxPossible: maxPossible,
		Percent:     percent,
	}
}

// collect gathers the included sum and valid-answer count for an item
// set, applying per-item polarity reversal. Reversal is a property of
// the item, not the domain: an item shared by two domains reverses in
// both or neither.
func collect(def instrument.Definition, items []string, answers map[string]int) (sum, valid int) {
	for _, itemID := range items {
		v, ok := answers[itemID]
		if !ok || def.IsNA(v) {
			continue
		}
		if v < def.ScaleMin || v > def.ScaleMax {
			continue
		}
		if def.IsReversed(itemID) {
			v = def.ScaleMin + def.ScaleMax - v
		}
		sum += v
		valid++
	}
	return sum, valid
}

func totalScore(def instrument.Definition, answers map[string]int, domains map[string]*models.DomainScore) *float64 {
	switch def.Total {
	case instrument.TotalSectionSum:
		// Sorted iteration keeps float accumulation order stable.
		keys := make([]string, 0, len(domains))
		for k := range domains {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sum float64
		any := false
		for _, k := range keys {
			if ds := domains[k]; ds != nil {
				sum += ds.Score
				any = true
			}
		}
		if !any {
			return nil
		}
		sum = round1(sum)
		return &sum
	default:
		ds := normalizedScore(def, def.Items, answers)
		if ds == nil {
			return nil
		}
		total := ds.Score
		return &total
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
