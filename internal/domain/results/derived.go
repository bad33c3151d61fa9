package results

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// numericInput returns the best available number for an analyte: its draft
// when one exists, even a blank one, otherwise the persisted value.
func numericInput(a *Analyte, drafts DraftMap) (decimal.Decimal, bool) {
	if d, ok := drafts[a.ID]; ok {
		return parseNumber(d.Value)
	}
	if a.ValueNum != nil {
		return decimal.NewFromFloat(*a.ValueNum), true
	}
	return decimal.Decimal{}, false
}

// RecomputeDerived returns a copy of drafts in which every absolute count of
// line is recalculated as round(base * percentage / 100). When the base or
// the percentage is missing or not a number, the derived draft is removed
// so no stale count is shown. Rounding is half away from zero.
func RecomputeDerived(line OrderLine, drafts DraftMap, h HemogramRules) DraftMap {
	out := drafts.Clone()

	var base decimal.Decimal
	baseOK := false
	if a, ok := line.AnalyteByLabel(h.BaseLabel); ok {
		base, baseOK = numericInput(a, drafts)
	}

	for _, pair := range h.AbsolutePairs {
		pct, ok := line.AnalyteByLabel(pair.Percentage)
		if !ok {
			continue
		}
		abs, ok := line.AnalyteByLabel(pair.Absolute)
		if !ok {
			continue
		}

		p, pctOK := numericInput(pct, drafts)
		if !baseOK || !pctOK {
			delete(out, abs.ID)
			continue
		}
		out[abs.ID] = Draft{
			OrderLineID: line.ID,
			AnalyteID:   abs.ID,
			Kind:        KindNumeric,
			Value:       base.Mul(p).Div(hundred).Round(0).String(),
			Derived:     true,
		}
	}
	return out
}

// PercentageCheck is the advisory result of summing a percentage family.
type PercentageCheck struct {
	Sum   decimal.Decimal `json:"sum"`
	Count int             `json:"count"`
	Pass  bool            `json:"pass"`
}

// CheckPercentages sums the best available value of every family member
// present on line. The check passes when at least one member has a value and
// the sum is within the tolerance of 100. It never blocks a commit.
func CheckPercentages(line OrderLine, drafts DraftMap, h HemogramRules) PercentageCheck {
	var c PercentageCheck
	for _, label := range h.PercentageFamily {
		a, ok := line.AnalyteByLabel(label)
		if !ok {
			continue
		}
		v, ok := numericInput(a, drafts)
		if !ok {
			continue
		}
		c.Sum = c.Sum.Add(v)
		c.Count++
	}
	c.Pass = c.Count > 0 && c.Sum.Sub(hundred).Abs().LessThanOrEqual(h.tolerance())
	return c
}
