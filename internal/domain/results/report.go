package results

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/lrlichardi/laboratory/internal/domain/refrange"
)

const (
	ReportTitle  = "Informe de Análisis Clínicos"
	emptyCell    = "—"
	sampleRemark = "Muestra remitida"
)

type ReportPatient struct {
	Name       string `json:"name"`
	DNI        string `json:"dni"`
	AgeYears   *int   `json:"age_years,omitempty"`
	Sex        string `json:"sex"`
	ObraSocial string `json:"obra_social,omitempty"`
}

type ReportRow struct {
	AnalyteID string `json:"analyte_id"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	Unit      string `json:"unit"`
	Reference string `json:"reference"`
	Method    string `json:"method,omitempty"`
}

type ReportSection struct {
	Section Section     `json:"section,omitempty"`
	Title   string      `json:"title,omitempty"`
	Rows    []ReportRow `json:"rows"`
}

type ReportLine struct {
	LineID   string          `json:"line_id"`
	Title    string          `json:"title,omitempty"`
	Flat     bool            `json:"flat"`
	Sections []ReportSection `json:"sections"`
	Remark   string          `json:"remark,omitempty"`
}

// Report is the printable view of an order.
type Report struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	Date        time.Time     `json:"date"`
	Status      OrderStatus   `json:"status"`
	StatusLabel string        `json:"status_label"`
	Patient     ReportPatient `json:"patient"`
	Doctor      string        `json:"doctor"`
	Lines       []ReportLine  `json:"lines"`
	Notes       string        `json:"notes,omitempty"`
}

// BuildReport renders the persisted values of an order. Reference texts of
// allow-listed analytes are narrowed to the patient's sex and age at now;
// when the birth date is unknown they are shown whole.
func BuildReport(o *Order, rules Rules, resolver *refrange.Resolver, now time.Time) Report {
	r := Report{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Date:        o.CreatedAt,
		Status:      o.Status,
		StatusLabel: o.Status.Label(),
		Patient: ReportPatient{
			Name:       o.Patient.FullName(),
			DNI:        o.Patient.DNI,
			Sex:        o.Patient.Sex,
			ObraSocial: o.Patient.ObraSocial,
		},
		Doctor: o.DoctorName,
		Notes:  strings.TrimSpace(o.Notes),
	}
	if r.Doctor == "" {
		r.Doctor = emptyCell
	}
	age, ageKnown := o.Patient.AgeAt(now)
	if ageKnown {
		r.Patient.AgeYears = &age
	}

	row := func(line OrderLine, a Analyte, sectioned bool) ReportRow {
		ref := a.ItemDef.RefText
		if ageKnown && rules.AppliesSexAge(line, a) {
			ref = resolver.Resolve(ref, o.Patient.Sex, age, true)
		}
		out := ReportRow{
			AnalyteID: a.ID,
			Label:     a.ItemDef.Label,
			Value:     formatValue(a),
			Unit:      a.DisplayUnit(),
			Reference: withUnit(ref, a.DisplayUnit()),
			Method:    methodOf(a.ItemDef),
		}
		if sectioned {
			out.Label = capitalize(out.Label)
			if a.ValueNum == nil {
				out.Value = capitalize(out.Value)
			}
		}
		if out.Value == "" {
			out.Value = emptyCell
		}
		if out.Unit == "" {
			out.Unit = "-"
		}
		if out.Reference == "" {
			out.Reference = emptyCell
		}
		return out
	}

	for _, line := range o.Lines {
		rl := ReportLine{LineID: line.ID, Flat: line.Flat()}
		if !rl.Flat {
			rl.Title = capitalize(line.ExamType.Name)
		}
		if rules.IsSectioned(line) {
			for _, b := range Classify(line.Analytes).Buckets() {
				sec := ReportSection{Section: b.Section, Title: b.Title}
				for _, a := range b.Analytes {
					sec.Rows = append(sec.Rows, row(line, a, true))
				}
				rl.Sections = append(rl.Sections, sec)
			}
			rl.Remark = sampleRemark
		} else {
			sec := ReportSection{}
			for _, a := range line.Analytes {
				sec.Rows = append(sec.Rows, row(line, a, false))
			}
			rl.Sections = append(rl.Sections, sec)
		}
		r.Lines = append(r.Lines, rl)
	}
	return r
}

// Markdown renders the report as GitHub-flavored markdown. Cell text is
// HTML-escaped; line breaks inside a cell become <br>.
func (r Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ReportTitle)

	b.WriteString("| | |\n|---|---|\n")
	field := func(name, value string) {
		fmt.Fprintf(&b, "| **%s** | %s |\n", name, cell(value))
	}
	field("Paciente", r.Patient.Name)
	field("DNI", r.Patient.DNI)
	if r.Patient.AgeYears != nil {
		field("Edad", fmt.Sprintf("%d años", *r.Patient.AgeYears))
	} else {
		field("Edad", emptyCell)
	}
	field("Sexo", r.Patient.Sex)
	field("Fecha", r.Date.Format("02/01/2006"))
	field("Médico", r.Doctor)
	if r.Patient.ObraSocial != "" {
		field("Obra Social", r.Patient.ObraSocial)
	}
	field("N° de Orden", r.OrderNumber)

	b.WriteString("\n## Resultados\n")
	for _, line := range r.Lines {
		b.WriteString("\n")
		if line.Title != "" {
			fmt.Fprintf(&b, "### %s\n\n", cell(line.Title))
		}
		for _, sec := range line.Sections {
			if sec.Title != "" {
				fmt.Fprintf(&b, "#### %s\n\n", cell(sec.Title))
			}
			b.WriteString("| Determinación | Resultado | Unidad | Valores de Referencia |\n")
			b.WriteString("|---|---:|:---:|---|\n")
			for _, row := range sec.Rows {
				label := cell(row.Label)
				if row.Method != "" {
					label += "<br>Met. " + cell(row.Method)
				}
				fmt.Fprintf(&b, "| %s | **%s** | %s | %s |\n", label, cell(row.Value), cell(row.Unit), cell(row.Reference))
			}
			b.WriteString("\n")
		}
		if line.Remark != "" {
			fmt.Fprintf(&b, "_%s_\n", cell(line.Remark))
		}
	}

	if r.Notes != "" {
		fmt.Fprintf(&b, "\n## Observaciones\n\n%s\n", cell(r.Notes))
	}
	return b.String()
}

var cellEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"|", `\|`,
	"\r\n", "<br>",
	"\n", "<br>",
)

func cell(s string) string {
	return cellEscaper.Replace(strings.TrimSpace(s))
}

func formatValue(a Analyte) string {
	if a.ValueNum != nil {
		return strconv.FormatFloat(*a.ValueNum, 'f', -1, 64)
	}
	if a.ValueText != nil {
		return strings.TrimSpace(*a.ValueText)
	}
	return ""
}

func withUnit(ref, unit string) string {
	ref = strings.TrimSpace(ref)
	unit = strings.TrimSpace(unit)
	if ref == "" || unit == "" {
		return ref
	}
	return ref + " " + unit
}

func methodOf(d ItemDef) string {
	m := strings.TrimSpace(d.Method)
	if m == "-" || strings.EqualFold(m, "N/A") {
		return ""
	}
	return m
}

// capitalize lower-cases s and upper-cases its first letter.
func capitalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
