package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Draft is an uncommitted edit of one analyte. Value holds the raw input as
// typed; it is coerced per Kind only when the draft is committed.
type Draft struct {
	OrderLineID string `json:"order_line_id"`
	AnalyteID   string `json:"analyte_id"`
	Kind        Kind   `json:"kind"`
	Value       string `json:"value"`
	Derived     bool   `json:"derived,omitempty"`
}

// DraftMap holds the pending edits of one order keyed by analyte id.
// Functions taking a DraftMap never mutate it.
type DraftMap map[string]Draft

func (m DraftMap) Clone() DraftMap {
	out := make(DraftMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m DraftMap) Equal(other DraftMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}

// ForLine returns the drafts belonging to one order line.
func (m DraftMap) ForLine(lineID string) DraftMap {
	out := DraftMap{}
	for k, v := range m {
		if v.OrderLineID == lineID {
			out[k] = v
		}
	}
	return out
}

// Without returns a copy of m lacking the given analyte ids.
func (m DraftMap) Without(analyteIDs ...string) DraftMap {
	out := m.Clone()
	for _, id := range analyteIDs {
		delete(out, id)
	}
	return out
}

// Value is a committed analyte value: a number, a string or null. JSON
// booleans decode to their text form.
type Value struct {
	num  *decimal.Decimal
	text *string
}

func NullValue() Value { return Value{} }

func NumberValue(d decimal.Decimal) Value { return Value{num: &d} }

func TextValue(s string) Value { return Value{text: &s} }

func (v Value) IsNull() bool { return v.num == nil && v.text == nil }

func (v Value) Number() (decimal.Decimal, bool) {
	if v.num == nil {
		return decimal.Decimal{}, false
	}
	return *v.num, true
}

func (v Value) Text() (string, bool) {
	if v.text == nil {
		return "", false
	}
	return *v.text, true
}

func (v Value) String() string {
	switch {
	case v.num != nil:
		return v.num.String()
	case v.text != nil:
		return *v.text
	}
	return "null"
}

func (v Value) Equal(o Value) bool {
	switch {
	case v.num != nil:
		return o.num != nil && v.num.Equal(*o.num)
	case v.text != nil:
		return o.text != nil && *v.text == *o.text
	}
	return o.IsNull()
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.num != nil:
		return []byte(v.num.String()), nil
	case v.text != nil:
		return json.Marshal(*v.text)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = NullValue()
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*v = TextValue(string(b))
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	default:
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, b)
		}
		*v = NumberValue(d)
	}
	return nil
}

// UpdateCommand sets one analyte value; a commit submits an ordered list of
// them as a single bulk update.
type UpdateCommand struct {
	OrderLineID string `json:"order_line_id"`
	AnalyteID   string `json:"analyte_id"`
	Value       Value  `json:"value"`
	Defaulted   bool   `json:"defaulted,omitempty"`
}

// parseNumber reads a numeric input, accepting a decimal comma.
func parseNumber(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, false
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// CoerceDraft converts a draft to the value sent to the backend. Blank input
// clears the value; numeric drafts must parse as numbers.
func CoerceDraft(d Draft) (Value, error) {
	raw := strings.TrimSpace(d.Value)
	if raw == "" {
		return NullValue(), nil
	}
	if ParseKind(string(d.Kind)) != KindNumeric {
		return TextValue(raw), nil
	}
	n, ok := parseNumber(raw)
	if !ok {
		return Value{}, fmt.Errorf("%w: analyte %s: %q is not a number", ErrInvalidValue, d.AnalyteID, d.Value)
	}
	return NumberValue(n), nil
}
