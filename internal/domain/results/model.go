package results

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSaveInProgress    = errors.New("save in progress")
	ErrUnknownAnalyte    = errors.New("analyte does not belong to order")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBackend           = errors.New("backend failure")
)

// Kind selects which of an analyte's value columns is meaningful.
type Kind string

const (
	KindNumeric Kind = "NUMERIC"
	KindText    Kind = "TEXT"
	KindBoolean Kind = "BOOLEAN"
	KindEnum    Kind = "ENUM"
)

// ParseKind normalizes a catalog kind. Unknown or empty kinds are numeric.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindText, KindBoolean, KindEnum:
		return k
	default:
		return KindNumeric
	}
}

type AnalyteStatus string

const (
	AnalytePending AnalyteStatus = "PENDING"
	AnalyteDone    AnalyteStatus = "DONE"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCanceled  OrderStatus = "CANCELED"
)

var orderStatusLabels = map[OrderStatus]string{
	OrderPending:   "PENDIENTE",
	OrderCompleted: "COMPLETADO",
	OrderCanceled:  "CANCELADO",
}

// Label returns the printable label of the status.
func (s OrderStatus) Label() string {
	if l, ok := orderStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusLabels[s]
	return ok
}

// orderTransitions defines valid status transitions for an order.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderCompleted, OrderCanceled},
	OrderCompleted: {OrderPending, OrderCanceled},
	OrderCanceled:  {OrderPending},
}

// ValidateTransition checks if an order may move from one status to another.
func ValidateTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	allowed, ok := orderTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown from-status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ItemDef is the catalog definition an analyte was created from.
type ItemDef struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Label     string `json:"label"`
	Unit      string `json:"unit,omitempty"`
	Kind      Kind   `json:"kind"`
	SortOrder int    `json:"sort_order"`
	RefText   string `json:"ref_text,omitempty"`
	Method    string `json:"method,omitempty"`
}

// Analyte is one measured value of an order line. Exactly one of ValueNum
// and ValueText is meaningful, selected by ItemDef.Kind.
type Analyte struct {
	ID          string        `json:"id"`
	OrderLineID string        `json:"order_line_id"`
	ItemDefID   string        `json:"item_def_id"`
	ValueNum    *float64      `json:"value_num,omitempty"`
	ValueText   *string       `json:"value_text,omitempty"`
	Unit        string        `json:"unit,omitempty"`
	Status      AnalyteStatus `json:"status"`
	ItemDef     ItemDef       `json:"item_def"`
}

// HasValue reports whether a value has been persisted. Blank text counts as
// no value.
func (a Analyte) HasValue() bool {
	if a.ValueNum != nil {
		return true
	}
	return a.ValueText != nil && strings.TrimSpace(*a.ValueText) != ""
}

// DisplayUnit is the analyte unit, falling back to the catalog unit.
func (a Analyte) DisplayUnit() string {
	if a.Unit != "" {
		return a.Unit
	}
	return a.ItemDef.Unit
}

type ExamType struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// OrderLine is one catalog exam attached to an order.
type OrderLine struct {
	ID         string    `json:"id"`
	ExamTypeID string    `json:"exam_type_id"`
	ExamType   ExamType  `json:"exam_type"`
	Analytes   []Analyte `json:"analytes"`
}

// Flat reports whether the line renders as a single row instead of a group.
func (l OrderLine) Flat() bool { return len(l.Analytes) == 1 }

// AnalyteByLabel returns the first analyte whose catalog label equals label.
func (l *OrderLine) AnalyteByLabel(label string) (*Analyte, bool) {
	for i := range l.Analytes {
		if l.Analytes[i].ItemDef.Label == label {
			return &l.Analytes[i], true
		}
	}
	return nil, false
}

type Patient struct {
	ID         string     `json:"id"`
	DNI        string     `json:"dni"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Sex        string     `json:"sex"`
	ObraSocial string     `json:"obra_social,omitempty"`
}

// FullName renders "Last, First".
func (p Patient) FullName() string {
	switch {
	case p.LastName == "":
		return p.FirstName
	case p.FirstName == "":
		return p.LastName
	}
	return p.LastName + ", " + p.FirstName
}

// AgeAt returns the age in whole years at now. The second value is false when
// the birth date is unknown.
func (p Patient) AgeAt(now time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := *p.BirthDate
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// Order is a patient's lab order with its lines and analytes.
type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"order_number"`
	Title       string      `json:"title,omitempty"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	Notes       string      `json:"notes,omitempty"`
	PatientID   string      `json:"patient_id"`
	Patient     Patient     `json:"patient"`
	DoctorName  string      `json:"doctor_name,omitempty"`
	Lines       []OrderLine `json:"lines"`
}

// Line returns the order line with the given id.
func (o *Order) Line(id string) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

// FindAnalyte returns the analyte with the given id and the line owning it.
func (o *Order) FindAnalyte(id string) (*OrderLine, *Analyte, bool) {
	for i := range o.Lines {
		for j := range o.Lines[i].Analytes {
			if o.Lines[i].Analytes[j].ID == id {
				return &o.Lines[i], &o.Lines[i].Analytes[j], true
			}
		}
	}
	return nil, nil, false
}

// Clone returns a deep copy of the order's line and analyte slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		l.Analytes = append([]Analyte(nil), l.Analytes...)
		c.Lines[i] = l
	}
	return &c
}

// WithoutLine returns a copy of the order with the given line removed.
func (o *Order) WithoutLine(lineID string) *Order {
	c := o.Clone()
	lines := c.Lines[:0]
	for _, l := range c.Lines {
		if l.ID != lineID {
			lines = append(lines, l)
		}
	}
	c.Lines = lines
	return c
}
