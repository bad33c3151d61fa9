// Package refrange turns free-text laboratory reference ranges into
// sex-tagged, age-bracketed sub-ranges and picks the one that applies to a
// patient.
//
// Reference texts come from a hand-maintained exam catalog and follow no
// formal grammar. A typical conditioned text looks like:
//
//	F: 1 - 5 años 0.02 - 0.25
//	   Adultas < 0.10 - 1.0
//	M: 1 - 5 años 0.02 - 0.30
//	   Adultos < 0.15 - 1.5
//
// Anything that does not fit the grammar degrades to "no split" or "no
// bracket", never to an error.
package refrange

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Sex is the normalized sex tag used to select a block of a reference text.
type Sex string

const (
	SexFemale  Sex = "F"
	SexMale    Sex = "M"
	SexUnknown Sex = ""
)

// AdultMinMonths is the lower bound of an "adult" bracket (18 years).
const AdultMinMonths = 18 * 12

var (
	femaleTag = regexp.MustCompile(`\bF\s*:`)
	maleTag   = regexp.MustCompile(`\bM\s*:`)
	sexTag    = regexp.MustCompile(`\b([FM])\s*:\s*`)

	punctuation = strings.NewReplacer("(", " ", ")", " ", "–", "-", "—", "-", "−", "-")
	lineBreaks  = regexp.MustCompile(`[\r\n;·]+`)
	spaces      = regexp.MustCompile(`\s+`)

	// A slash only separates lines when what follows it opens a new age label;
	// otherwise it belongs to the values (units such as ng/ml).
	ageLabelStart = regexp.MustCompile(`(?i)^\s*(\d+\s*-\s*\d+\s*(años|anios|meses|d[ií]as)|adult)`)

	bracketLine = regexp.MustCompile(`(?i)^(.*?(?:años|anios|meses|d[ií]as|adult\w*))[\s:]+(.+)$`)
	ageSpan     = regexp.MustCompile(`(?i)(\d+)\s*-\s*(\d+)\s*(años|anios|meses|d[ií]as)`)
	adultWord   = regexp.MustCompile(`(?i)\badult`)
	valueEdges  = regexp.MustCompile(`^[;,:/\-–—\s]+|[;,:/\-–—\s]+$`)
)

// Bracket is one age-scoped sub-range of a sex block.
type Bracket struct {
	MinMonths int    `json:"min_months"`
	MaxMonths int    `json:"max_months"`
	Unbounded bool   `json:"unbounded,omitempty"`
	ValueText string `json:"value_text"`
	Line      string `json:"line"`
}

// Contains reports whether an age in months falls inside the bracket.
// Both bounds are inclusive.
func (b Bracket) Contains(months int) bool {
	if months < b.MinMonths {
		return false
	}
	return b.Unbounded || months <= b.MaxMonths
}

// ReferenceRange is the parsed form of a raw reference text. It is derived on
// demand and never persisted.
type ReferenceRange struct {
	Text     string
	Split    bool
	Blocks   map[Sex]string
	Brackets map[Sex][]Bracket
}

// Block returns the raw text of the block tagged with sex.
func (r *ReferenceRange) Block(sex Sex) string {
	if r == nil || r.Blocks == nil {
		return ""
	}
	return r.Blocks[sex]
}

// HasSexSplit reports whether text carries both an F: and an M: tag as whole
// words. Texts with only one of them are treated as sex-independent.
func HasSexSplit(text string) bool {
	return femaleTag.MatchString(text) && maleTag.MatchString(text)
}

// Parse splits text into its F and M blocks and parses the age brackets of
// each. When the text has no unambiguous split the result has Split=false and
// no blocks.
func Parse(text string) *ReferenceRange {
	rr := &ReferenceRange{Text: text}
	if !HasSexSplit(text) {
		return rr
	}

	locs := sexTag.FindAllStringSubmatchIndex(text, -1)
	rr.Blocks = make(map[Sex]string, 2)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		tag := Sex(text[loc[2]:loc[3]])
		rr.Blocks[tag] = strings.TrimSpace(text[loc[1]:end])
	}

	rr.Split = true
	rr.Brackets = make(map[Sex][]Bracket, len(rr.Blocks))
	for sex, block := range rr.Blocks {
		rr.Brackets[sex] = ParseBrackets(block)
	}
	return rr
}

// ParseBrackets extracts the age brackets of one sex block in source order.
// Lines that do not look like "<A> - <B> <unit> <values>" or "Adult… <values>"
// are skipped.
func ParseBrackets(block string) []Bracket {
	var out []Bracket
	for _, line := range splitLines(block) {
		m := bracketLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		minM, maxM, unbounded, ok := parseAgeLabel(m[1])
		if !ok {
			continue
		}
		out = append(out, Bracket{
			MinMonths: minM,
			MaxMonths: maxM,
			Unbounded: unbounded,
			ValueText: valueEdges.ReplaceAllString(strings.TrimSpace(m[2]), ""),
			Line:      line,
		})
	}
	return out
}

func splitLines(block string) []string {
	normalized := punctuation.Replace(block)

	var lines []string
	for _, chunk := range lineBreaks.Split(normalized, -1) {
		pieces := strings.Split(chunk, "/")
		current := pieces[0]
		for _, p := range pieces[1:] {
			if ageLabelStart.MatchString(p) {
				lines = appendLine(lines, current)
				current = p
				continue
			}
			current += "/" + p
		}
		lines = appendLine(lines, current)
	}
	return lines
}

func appendLine(lines []string, line string) []string {
	line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
	if line == "" {
		return lines
	}
	return append(lines, line)
}

// parseAgeLabel converts an age label into a month interval. Years are
// multiplied by 12, days are divided by 30 and rounded half up.
func parseAgeLabel(label string) (minM, maxM int, unbounded, ok bool) {
	s := strings.ToLower(strings.TrimSpace(label))
	if adultWord.MatchString(s) {
		return AdultMinMonths, math.MaxInt, true, true
	}

	m := ageSpan.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false, false
	}
	a, errA := strconv.Atoi(m[1])
	b, errB := strconv.Atoi(m[2])
	if errA != nil || errB != nil {
		return 0, 0, false, false
	}

	unit := strings.ToLower(m[3])
	toMonths := func(n int) int {
		switch {
		case strings.HasPrefix(unit, "mes"):
			return n
		case strings.HasPrefix(unit, "d"):
			return (n + 15) / 30
		default:
			return n * 12
		}
	}
	return toMonths(a), toMonths(b), false, true
}

// AgeYearsToMonths converts a whole-years age to months. Negative ages clamp
// to zero.
func AgeYearsToMonths(years int) int {
	if years < 0 {
		return 0
	}
	return years * 12
}
