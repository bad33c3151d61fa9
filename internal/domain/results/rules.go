package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/lrlichardi/laboratory/internal/domain/refrange"
)

// AbsolutePair links a percentage analyte to the absolute count derived from
// it.
type AbsolutePair struct {
	Percentage string `mapstructure:"percentage" json:"percentage" yaml:"percentage"`
	Absolute   string `mapstructure:"absolute" json:"absolute" yaml:"absolute"`
}

// HemogramRules drives derived absolute counts and the percentage-family
// check. Labels are matched exactly against catalog labels.
type HemogramRules struct {
	BaseLabel        string         `mapstructure:"base_label" json:"base_label" yaml:"base_label"`
	AbsolutePairs    []AbsolutePair `mapstructure:"absolute_pairs" json:"absolute_pairs" yaml:"absolute_pairs"`
	PercentageFamily []string       `mapstructure:"percentage_family" json:"percentage_family" yaml:"percentage_family"`
	Tolerance        float64        `mapstructure:"tolerance" json:"tolerance" yaml:"tolerance"`
}

// UrinalysisRules drives sectioning and default injection for the only
// sectioned exam.
type UrinalysisRules struct {
	ExamCode        string `mapstructure:"exam_code" json:"exam_code" yaml:"exam_code"`
	ChemicalDefault string `mapstructure:"chemical_default" json:"chemical_default" yaml:"chemical_default"`
	ReservedLabel   string `mapstructure:"reserved_label" json:"reserved_label" yaml:"reserved_label"`
	ReservedDefault string `mapstructure:"reserved_default" json:"reserved_default" yaml:"reserved_default"`
}

// Rules are the hand-maintained tables the engine consumes. A Rules value is
// never mutated after construction.
type Rules struct {
	SexAge     refrange.Allowlist `mapstructure:"sex_age" json:"sex_age" yaml:"sex_age"`
	Hemogram   HemogramRules      `mapstructure:"hemogram" json:"hemogram" yaml:"hemogram"`
	Urinalysis UrinalysisRules    `mapstructure:"urinalysis" json:"urinalysis" yaml:"urinalysis"`
}

// DefaultRules returns the tables used by the clinic.
func DefaultRules() Rules {
	return Rules{
		SexAge: refrange.Allowlist{
			Keys:      []string{"TESTOSTERONA_TOTAL", "CPK", "PROLACTINA"},
			ExamNames: []string{"HEMOGRAMA", "FERREMIA", "FERRITINA"},
		},
		Hemogram: HemogramRules{
			BaseLabel: "Leucocitos",
			AbsolutePairs: []AbsolutePair{
				{Percentage: "Neutrófilos segmentados", Absolute: "Neutrófilos segmentados (Abs)"},
				{Percentage: "Eosinófilos", Absolute: "Eosinófilos (Abs)"},
				{Percentage: "Basófilos", Absolute: "Basófilos (Abs)"},
				{Percentage: "Linfocitos", Absolute: "Linfocitos (Abs)"},
				{Percentage: "Monocitos", Absolute: "Monocitos (Abs)"},
			},
			PercentageFamily: []string{
				"Neutrófilos en cayado",
				"Neutrófilos segmentados",
				"Eosinófilos",
				"Basófilos",
				"Linfocitos",
				"Monocitos",
			},
			Tolerance: 0.5,
		},
		Urinalysis: UrinalysisRules{
			ExamCode:        "660711",
			ChemicalDefault: "No contiene",
			ReservedLabel:   "Urobilinógeno",
			ReservedDefault: "Normal",
		},
	}
}

// LoadRules reads rule tables from a YAML, JSON or TOML file. Tables missing
// from the file keep their defaults.
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	if path == "" {
		return r, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Rules{}, fmt.Errorf("read rules file %s: %w", path, err)
	}
	if err := v.Unmarshal(&r); err != nil {
		return Rules{}, fmt.Errorf("decode rules file %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return r, nil
}

// Validate reports every inconsistency in the tables at once.
func (r Rules) Validate() error {
	var errs []error
	h := r.Hemogram
	if len(h.AbsolutePairs) > 0 && strings.TrimSpace(h.BaseLabel) == "" {
		errs = append(errs, errors.New("hemogram.base_label is required when absolute_pairs are set"))
	}
	seen := map[string]bool{}
	for i, p := range h.AbsolutePairs {
		if p.Percentage == "" || p.Absolute == "" {
			errs = append(errs, fmt.Errorf("hemogram.absolute_pairs[%d]: percentage and absolute are required", i))
			continue
		}
		if p.Percentage == p.Absolute {
			errs = append(errs, fmt.Errorf("hemogram.absolute_pairs[%d]: %q derives from itself", i, p.Absolute))
		}
		if seen[p.Absolute] {
			errs = append(errs, fmt.Errorf("hemogram.absolute_pairs[%d]: %q is derived twice", i, p.Absolute))
		}
		seen[p.Absolute] = true
	}
	if h.Tolerance < 0 {
		errs = append(errs, errors.New("hemogram.tolerance must not be negative"))
	}
	u := r.Urinalysis
	if u.ExamCode != "" && strings.TrimSpace(u.ChemicalDefault) == "" {
		errs = append(errs, errors.New("urinalysis.chemical_default is required"))
	}
	if u.ReservedLabel != "" && strings.TrimSpace(u.ReservedDefault) == "" {
		errs = append(errs, errors.New("urinalysis.reserved_default is required when reserved_label is set"))
	}
	return errors.Join(errs...)
}

// IsSectioned reports whether line is the multi-section urinalysis exam.
func (r Rules) IsSectioned(line OrderLine) bool {
	return r.Urinalysis.ExamCode != "" && line.ExamType.Code == r.Urinalysis.ExamCode
}

// ChemicalDefault is the value injected for an unanswered chemical analyte.
func (r Rules) ChemicalDefault(a Analyte) string {
	u := r.Urinalysis
	if u.ReservedLabel != "" && strings.EqualFold(strings.TrimSpace(a.ItemDef.Label), u.ReservedLabel) {
		return u.ReservedDefault
	}
	return u.ChemicalDefault
}

// AppliesSexAge reports whether the analyte's reference text is filtered by
// patient sex and age.
func (r Rules) AppliesSexAge(line OrderLine, a Analyte) bool {
	return r.SexAge.Applies(a.ItemDef.Key, a.ItemDef.Label, line.ExamType.Name)
}

func (h HemogramRules) tolerance() decimal.Decimal {
	return decimal.NewFromFloat(h.Tolerance)
}
