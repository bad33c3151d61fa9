package backend

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lrlichardi/laboratory/internal/domain/nomenclador"
	"github.com/lrlichardi/laboratory/internal/domain/results"
)

// Wire types use the backend's camelCase names.

type itemDefDTO struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Label     string  `json:"label"`
	Unit      *string `json:"unit"`
	Kind      string  `json:"kind"`
	SortOrder int     `json:"sortOrder"`
	RefText   *string `json:"refText"`
	Method    *string `json:"method"`
}

type analyteDTO struct {
	ID          string     `json:"id"`
	OrderItemID string     `json:"orderItemId"`
	ItemDefID   string     `json:"itemDefId"`
	ValueNum    *float64   `json:"valueNum"`
	ValueText   *string    `json:"valueText"`
	Unit        *string    `json:"unit"`
	Status      string     `json:"status"`
	ItemDef     itemDefDTO `json:"itemDef"`
	Method      *string    `json:"method"`
}

type orderItemDTO struct {
	ID         string `json:"id"`
	ExamTypeID string `json:"examTypeId"`
	ExamType   struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"examType"`
	Analytes []analyteDTO `json:"analytes"`
}

type patientDTO struct {
	ID         string  `json:"id"`
	DNI        string  `json:"dni"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	BirthDate  *string `json:"birthDate"`
	Sex        string  `json:"sex"`
	ObraSocial *string `json:"obraSocial"`
}

type orderDTO struct {
	ID          string     `json:"id"`
	OrderNumber *string    `json:"orderNumber"`
	Title       *string    `json:"title"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Notes       *string    `json:"notes"`
	PatientID   string     `json:"patientId"`
	Patient     patientDTO `json:"patient"`
	Doctor      *struct {
		FullName *string `json:"fullName"`
	} `json:"doctor"`
	Items []orderItemDTO `json:"items"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// parseBirthDate accepts a plain date or a full timestamp.
func parseBirthDate(p *string) *time.Time {
	s := strings.TrimSpace(str(p))
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func (o orderDTO) toDomain() *results.Order {
	out := &results.Order{
		ID:          o.ID,
		OrderNumber: str(o.OrderNumber),
		Title:       str(o.Title),
		Status:      results.OrderStatus(strings.ToUpper(o.Status)),
		CreatedAt:   o.CreatedAt,
		Notes:       str(o.Notes),
		PatientID:   o.PatientID,
		Patient: results.Patient{
			ID:         o.Patient.ID,
			DNI:        o.Patient.DNI,
			FirstName:  o.Patient.FirstName,
			LastName:   o.Patient.LastName,
			BirthDate:  parseBirthDate(o.Patient.BirthDate),
			Sex:        o.Patient.Sex,
			ObraSocial: str(o.Patient.ObraSocial),
		},
	}
	if out.Status == "" {
		out.Status = results.OrderPending
	}
	if out.PatientID == "" {
		out.PatientID = o.Patient.ID
	}
	if o.Doctor != nil {
		out.DoctorName = str(o.Doctor.FullName)
	}
	for _, it := range o.Items {
		line := results.OrderLine{
			ID:         it.ID,
			ExamTypeID: it.ExamTypeID,
			ExamType:   results.ExamType{ID: it.ExamTypeID, Code: it.ExamType.Code, Name: it.ExamType.Name},
		}
		for _, a := range it.Analytes {
			def := results.ItemDef{
				ID:        a.ItemDef.ID,
				Key:       a.ItemDef.Key,
				Label:     a.ItemDef.Label,
				Unit:      str(a.ItemDef.Unit),
				Kind:      results.ParseKind(a.ItemDef.Kind),
				SortOrder: a.ItemDef.SortOrder,
				RefText:   str(a.ItemDef.RefText),
				Method:    str(a.ItemDef.Method),
			}
			if m := str(a.Method); m != "" {
				def.Method = m
			}
			lineID := a.OrderItemID
			if lineID == "" {
				lineID = it.ID
			}
			line.Analytes = append(line.Analytes, results.Analyte{
				ID:          a.ID,
				OrderLineID: lineID,
				ItemDefID:   a.ItemDefID,
				ValueNum:    a.ValueNum,
				ValueText:   a.ValueText,
				Unit:        str(a.Unit),
				Status:      results.AnalyteStatus(strings.ToUpper(a.Status)),
				ItemDef:     def,
			})
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

type bulkUpdateDTO struct {
	OrderItemID string        `json:"orderItemId"`
	AnalyteID   string        `json:"analyteId"`
	Value       results.Value `json:"value"`
}

type bulkRequest struct {
	Updates []bulkUpdateDTO `json:"updates"`
}

func toBulkRequest(cmds []results.UpdateCommand) bulkRequest {
	req := bulkRequest{Updates: make([]bulkUpdateDTO, 0, len(cmds))}
	for _, c := range cmds {
		req.Updates = append(req.Updates, bulkUpdateDTO{OrderItemID: c.OrderLineID, AnalyteID: c.AnalyteID, Value: c.Value})
	}
	return req
}

// flexCode decodes a code sent either as a JSON number or a string.
type flexCode string

func (f *flexCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexCode(n.String())
	return nil
}

type nomenDTO struct {
	Codigo        flexCode        `json:"codigo"`
	Determinacion string          `json:"determinacion"`
	UB            decimal.Decimal `json:"ub"`
}

type nomenListDTO struct {
	Rows []nomenDTO `json:"rows"`
}

func (n nomenListDTO) toDomain() []nomenclador.Entry {
	out := make([]nomenclador.Entry, 0, len(n.Rows))
	for _, r := range n.Rows {
		out = append(out, nomenclador.Entry{Code: string(r.Codigo), Determination: r.Determinacion, UB: r.UB})
	}
	return out
}

type factorDTO struct {
	Factor int64 `json:"factor"`
}
