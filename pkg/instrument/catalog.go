package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AggregationMode selects how raw item values become domain scores. It is
// declared per instrument, never inferred from the instrument's identity.
type AggregationMode string

const (
	ModeNormalized AggregationMode = "normalized"
	ModeAdditive   AggregationMode = "additive"
)

// TotalMode selects how the instrument total is computed.
type TotalMode string

const (
	TotalAllItems   TotalMode = "all_items"   // normalized score over the full item set
	TotalSectionSum TotalMode = "section_sum" // sum of per-domain sums
)

// Definition is a static, versioned questionnaire description. Immutable
// at runtime; user data never mutates it.
type Definition struct {
	ID       string              `yaml:"-" json:"id"`
	Name     string              `yaml:"name" json:"name"`
	Items    []string            `yaml:"items" json:"items"`
	Domains  map[string][]string `yaml:"domains" json:"domains"`
	ScaleMin int                 `yaml:"scale_min" json:"scale_min"`
	ScaleMax int                 `yaml:"scale_max" json:"scale_max"`
	NAValue  *int                `yaml:"na_value" json:"na_value,omitempty"`
	Mode     AggregationMode     `yaml:"mode" json:"mode"`
	Total    TotalMode           `yaml:"total" json:"total"`
	Reversed []string            `yaml:"reversed" json:"reversed,omitempty"`
}

// InRange reports whether v is a legal raw answer, the NA sentinel included.
func (d Definition) InRange(v int) bool {
	if d.IsNA(v) {
		return true
	}
	return v >= d.ScaleMin && v <= d.ScaleMax
}

func (d Definition) IsNA(v int) bool {
	return d.NAValue != nil && v == *d.NAValue
}

func (d Definition) IsReversed(itemID string) bool {
	for _, r := range d.Reversed {
		if r == itemID {
			return true
		}
	}
	return false
}

func (d Definition) HasItem(itemID string) bool {
	for _, it := range d.Items {
		if it == itemID {
			return true
		}
	}
	return false
}

func (d Definition) validate() error {
	if len(d.Items) == 0 {
		return fmt.Errorf("instrument %s: no items", d.ID)
	}
	if d.ScaleMax <= d.ScaleMin {
		return fmt.Errorf("instrument %s: scale_max must exceed scale_min", d.ID)
	}
	if d.Mode != ModeNormalized && d.Mode != ModeAdditive {
		return fmt.Errorf("instrument %s: unknown aggregation mode %q", d.ID, d.Mode)
	}
	if d.Total != TotalAllItems && d.Total != TotalSectionSum {
		return fmt.Errorf("instrument %s: unknown total mode %q", d.ID, d.Total)
	}
	for domain, items := range d.Domains {
		for _, item := range items {
			if !d.HasItem(item) {
				return fmt.Errorf("instrument %s: domain %s references unknown item %s", d.ID, domain, item)
			}
		}
	}
	for _, item := range d.Reversed {
		if !d.HasItem(item) {
			return fmt.Errorf("instrument %s: reversed item %s not in item list", d.ID, item)
		}
	}
	return nil
}

type Catalog struct {
	Instruments map[string]Definition `yaml:"instruments"`
}

// Load reads a catalog file; an empty path yields the built-in defaults.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Catalog{}, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Instruments) == 0 {
		return Catalog{}, fmt.Errorf("instrument catalog empty")
	}
	for id, def := range cat.Instruments {
		def.ID = strings.ToLower(id)
		if def.Total == "" {
			def.Total = TotalAllItems
		}
		if err := def.validate(); err != nil {
			return Catalog{}, err
		}
		cat.Instruments[id] = def
	}
	return cat, nil
}

func (c Catalog) Lookup(id string) (Definition, bool) {
	if c.Instruments == nil {
		return Definition{}, false
	}
	def, ok := c.Instruments[strings.ToLower(id)]
	if ok {
		return def, true
	}
	for k, v := range c.Instruments {
		if strings.EqualFold(k, id) {
			return v, true
		}
	}
	return Definition{}, false
}

// All returns every definition, sorted by identifier.
func (c Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.Instruments))
	for _, def := range c.Instruments {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultCatalog ships the instruments the platform supports out of the
// box: the HAL (Hemophilia Activities List, 42 items on a 1-6 scale with
// a not-applicable sentinel, normalized 0-100 domains) and the PHQ-9
// (9 items on a 0-3 scale, plain additive severity score).
func DefaultCatalog() Catalog {
	na := 8
	hal := Definition{
		ID:       "hal",
		Name:     "Hemophilia Activities List",
		Items:    sequence("hal", 42),
		ScaleMin: 1,
		ScaleMax: 6,
		NAValue:  &na,
		Mode:     ModeNormalized,
		Total:    TotalAllItems,
		Domains: map[string][]string{
			"lying_sitting":   sequenceRange("hal", 1, 8),
			"leg_functions":   sequenceRange("hal", 9, 17),
			"arm_functions":   sequenceRange("hal", 18, 21),
			"transport":       sequenceRange("hal", 22, 24),
			"self_care":       sequenceRange("hal", 25, 29),
			"household_tasks": sequenceRange("hal", 30, 35),
			"leisure_sports":  sequenceRange("hal", 36, 42),
		},
	}

	phq9 := Definition{
		ID:       "phq9",
		Name:     "Patient Health Questionnaire-9",
		Items:    sequence("phq", 9),
		ScaleMin: 0,
		ScaleMax: 3,
		Mode:     ModeAdditive,
		Total:    TotalSectionSum,
		Domains: map[string][]string{
			"depression": sequence("phq", 9),
		},
	}

	return Catalog{Instruments: map[string]Definition{
		"hal":  hal,
		"phq9": phq9,
	}}
}

func sequence(prefix string, n int) []string {
	return sequenceRange(prefix, 1, n)
}

func sequenceRange(prefix string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}
