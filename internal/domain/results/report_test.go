package results

import (
	"strings"
	"testing"
	"time"

	"github.com/lrlichardi/laboratory/internal/domain/refrange"
)

var reportNow = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

const prolactinRef = "F: 1 - 5 años 0.02 - 0.25\nAdultas < 0.10 - 1.0\nM: 1 - 5 años 0.02 - 0.30\nAdultos < 0.15 - 1.5"

func prolactinLine() OrderLine {
	a := withNum(an("p-1", "PROLACTINA", "Prolactina", KindNumeric, 1), 0.5)
	a.ItemDef.Unit = "ng/ml"
	a.ItemDef.RefText = prolactinRef
	a.ItemDef.Method = "N/A"
	return line("L-PRL", "700", "PROLACTINA", a)
}

func tshLine() OrderLine {
	a := withNum(an("t-1", "TSH", "TSH", KindNumeric, 1), 2.1)
	a.ItemDef.RefText = "F: 0.4 - 4.0 M: 0.5 - 4.5"
	return line("L-TSH", "701", "TSH", a)
}

func TestBuildReport_Header(t *testing.T) {
	o := testOrder(glucoseLine())
	o.Notes = "  Ayuno de 12 hs  "
	r := BuildReport(o, DefaultRules(), refrange.NewResolver(8), reportNow)

	if r.Patient.Name != "Pérez, Ana" || r.Patient.DNI != "30111222" {
		t.Errorf("unexpected patient %+v", r.Patient)
	}
	if r.Patient.AgeYears == nil || *r.Patient.AgeYears != 40 {
		t.Errorf("unexpected age %v", r.Patient.AgeYears)
	}
	if r.StatusLabel != "PENDIENTE" || r.Doctor != "Dr. Gómez" || r.Notes != "Ayuno de 12 hs" {
		t.Errorf("unexpected header %+v", r)
	}
}

func TestBuildReport_FlatLine(t *testing.T) {
	r := BuildReport(testOrder(glucoseLine()), DefaultRules(), refrange.NewResolver(8), reportNow)
	if len(r.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(r.Lines))
	}
	l := r.Lines[0]
	if !l.Flat || l.Title != "" {
		t.Errorf("single-analyte line renders flat without title, got %+v", l)
	}
	row := l.Sections[0].Rows[0]
	want := ReportRow{AnalyteID: "g-1", Label: "Glucemia", Value: "92", Unit: "mg/dl", Reference: "70 - 110 mg/dl", Method: "Enzimático"}
	if row != want {
		t.Errorf("row = %+v, want %+v", row, want)
	}
}

func TestBuildReport_ResolvesAllowListedReference(t *testing.T) {
	r := BuildReport(testOrder(prolactinLine(), tshLine()), DefaultRules(), refrange.NewResolver(8), reportNow)

	prl := r.Lines[0].Sections[0].Rows[0]
	if prl.Reference != "< 0.10 - 1.0 ng/ml" {
		t.Errorf("prolactin reference = %q", prl.Reference)
	}
	if prl.Method != "" {
		t.Error("N/A method must be hidden")
	}

	tsh := r.Lines[1].Sections[0].Rows[0]
	if tsh.Reference != "F: 0.4 - 4.0 M: 0.5 - 4.5" {
		t.Errorf("non allow-listed reference must be verbatim, got %q", tsh.Reference)
	}
	if tsh.Unit != "-" {
		t.Errorf("missing unit prints as -, got %q", tsh.Unit)
	}
}

func TestBuildReport_UnknownBirthDateShowsWholeReference(t *testing.T) {
	o := testOrder(prolactinLine())
	o.Patient.BirthDate = nil
	r := BuildReport(o, DefaultRules(), refrange.NewResolver(8), reportNow)

	if r.Patient.AgeYears != nil {
		t.Error("age must be unknown")
	}
	if got := r.Lines[0].Sections[0].Rows[0].Reference; got != prolactinRef+" ng/ml" {
		t.Errorf("reference = %q", got)
	}
}

func TestBuildReport_UrinalysisSections(t *testing.T) {
	l := urineLine()
	l.Analytes[2] = withText(l.Analytes[2], "NO CONTIENE")
	r := BuildReport(testOrder(l), DefaultRules(), refrange.NewResolver(8), reportNow)

	rl := r.Lines[0]
	if rl.Title != "Orina completa" || rl.Remark != "Muestra remitida" {
		t.Errorf("unexpected line header %+v", rl)
	}
	if len(rl.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(rl.Sections))
	}
	titles := []string{"Examen Físico", "Examen Químico", "Examen microscópico de sedimento (x400)"}
	for i, want := range titles {
		if rl.Sections[i].Title != want {
			t.Errorf("section %d title = %q, want %q", i, rl.Sections[i].Title, want)
		}
	}
	if got := rl.Sections[0].Rows[0].Value; got != "Amarillo" {
		t.Errorf("text values are capitalized, got %q", got)
	}
	chem := rl.Sections[1].Rows
	if chem[0].Label != "Glucosa" || chem[0].Value != "No contiene" {
		t.Errorf("unexpected first chemical row %+v", chem[0])
	}
	if chem[1].Value != "—" {
		t.Errorf("empty value prints as dash, got %q", chem[1].Value)
	}
}

func TestReport_Markdown(t *testing.T) {
	g := glucoseLine()
	g.Analytes[0].ItemDef.RefText = "< 110\n(ayunas)"
	o := testOrder(g, urineLine())
	md := BuildReport(o, DefaultRules(), refrange.NewResolver(8), reportNow).Markdown()

	for _, want := range []string{
		"# Informe de Análisis Clínicos",
		"| **Paciente** | Pérez, Ana |",
		"| **Edad** | 40 años |",
		"| **Fecha** | 02/05/2024 |",
		"| **Obra Social** | OSDE |",
		"## Resultados",
		"| Glucemia<br>Met. Enzimático | **92** | mg/dl | &lt; 110<br>(ayunas) mg/dl |",
		"### Orina completa",
		"#### Examen Químico",
		"_Muestra remitida_",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Contains(md, "Observaciones") {
		t.Error("no notes section without notes")
	}
}

func TestCell_EscapesPipes(t *testing.T) {
	if got := cell(" a | b <c> & d "); got != `a \| b &lt;c&gt; &amp; d` {
		t.Errorf("cell() = %q", got)
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{
		"ORINA COMPLETA": "Orina completa",
		"élite":          "Élite",
		"":               "",
		" x ":            "X",
	}
	for in, want := range tests {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
