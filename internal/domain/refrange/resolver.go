package refrange

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewResolver is given a non-positive size.
const DefaultCacheSize = 256

// Outcome tells which path of the resolution produced the returned text.
type Outcome string

const (
	OutcomeNotApplicable Outcome = "not_applicable"
	OutcomeNoSplit       Outcome = "no_split"
	OutcomeUnknownSex    Outcome = "unknown_sex"
	OutcomeNoBlock       Outcome = "no_block"
	OutcomeBracket       Outcome = "bracket"
	OutcomeBlockFallback Outcome = "block_fallback"
)

// Resolution is the result of resolving a reference text for one patient.
type Resolution struct {
	Text    string   `json:"text"`
	Outcome Outcome  `json:"outcome"`
	Sex     Sex      `json:"sex,omitempty"`
	Bracket *Bracket `json:"bracket,omitempty"`
}

// Filtered reports whether the text was narrowed down from the original.
func (r Resolution) Filtered() bool {
	return r.Outcome == OutcomeBracket || r.Outcome == OutcomeBlockFallback
}

// Resolver selects the applicable reference text for a patient. Parsed ranges
// are memoized by text; parsing is pure so sharing the cache is safe. The zero
// value works without a cache.
type Resolver struct {
	cache *lru.Cache[string, *ReferenceRange]
}

// NewResolver returns a Resolver memoizing up to cacheSize parsed texts.
func NewResolver(cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *ReferenceRange](cacheSize)
	if err != nil {
		return &Resolver{}
	}
	return &Resolver{cache: cache}
}

// Parse returns the parsed form of text, from the cache when possible.
func (r *Resolver) Parse(text string) *ReferenceRange {
	if r == nil || r.cache == nil {
		return Parse(text)
	}
	if rr, ok := r.cache.Get(text); ok {
		return rr
	}
	rr := Parse(text)
	r.cache.Add(text, rr)
	return rr
}

// Resolve returns the reference text to show for a patient of the given sex
// and whole-years age. When applies is false, the text has no F/M split or
// the sex is unknown, text is returned unmodified.
func (r *Resolver) Resolve(text, sex string, ageYears int, applies bool) string {
	return r.Explain(text, sex, ageYears, applies).Text
}

// Explain is Resolve with the outcome attached.
func (r *Resolver) Explain(text, sex string, ageYears int, applies bool) Resolution {
	if !applies {
		return Resolution{Text: text, Outcome: OutcomeNotApplicable}
	}
	if !HasSexSplit(text) {
		return Resolution{Text: text, Outcome: OutcomeNoSplit}
	}
	s := NormalizeSex(sex)
	if s == SexUnknown {
		return Resolution{Text: text, Outcome: OutcomeUnknownSex}
	}

	rr := r.Parse(text)
	block := rr.Block(s)
	if block == "" {
		return Resolution{Text: text, Outcome: OutcomeNoBlock, Sex: s}
	}

	months := AgeYearsToMonths(ageYears)
	for _, b := range rr.Brackets[s] {
		if !b.Contains(months) {
			continue
		}
		if b.ValueText == "" {
			break
		}
		b := b
		return Resolution{Text: b.ValueText, Outcome: OutcomeBracket, Sex: s, Bracket: &b}
	}
	return Resolution{Text: block, Outcome: OutcomeBlockFallback, Sex: s}
}

// NormalizeSex maps a free-form sex label to F, M or unknown.
func NormalizeSex(label string) Sex {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "f", "fem", "femenino", "female", "mujer":
		return SexFemale
	case "m", "masc", "masculino", "male", "varon", "varón", "hombre":
		return SexMale
	}
	return SexUnknown
}

// Allowlist decides which analytes get sex/age filtering. Filtering is opt-in:
// many catalog texts contain F/M fragments that must be shown verbatim.
type Allowlist struct {
	// Keys matches either the catalog item key or the item label.
	Keys []string `mapstructure:"keys" json:"keys" yaml:"keys"`
	// ExamNames matches the name of the exam owning the analyte.
	ExamNames []string `mapstructure:"exam_names" json:"exam_names" yaml:"exam_names"`
}

// Applies reports whether the analyte identified by key, label or exam name
// is allow-listed. Matching is exact after trimming and upper-casing.
func (a Allowlist) Applies(itemKey, itemLabel, examName string) bool {
	key, label, exam := normalizeName(itemKey), normalizeName(itemLabel), normalizeName(examName)
	for _, k := range a.Keys {
		n := normalizeName(k)
		if n == "" {
			continue
		}
		if n == key || n == label {
			return true
		}
	}
	if exam == "" {
		return false
	}
	for _, e := range a.ExamNames {
		if normalizeName(e) == exam {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
