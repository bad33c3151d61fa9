package results

import "testing"

func TestSectionOf(t *testing.T) {
	tests := map[string]Section{
		"EF_COLOR":       SectionPhysical,
		"EQ_GLUCOSA":     SectionChemical,
		"EM_LEUCOCITOS":  SectionMicroscopic,
		"XX_OTRO":        SectionOther,
		"ef_color":       SectionOther,
		"EFG_COLOR":      SectionOther,
		"EF":             SectionOther,
		"GLUCEMIA":       SectionOther,
		"":               SectionOther,
		"EQ_":            SectionChemical,
		"EM_CELULAS_EPI": SectionMicroscopic,
	}
	for key, want := range tests {
		if got := SectionOf(key); got != want {
			t.Errorf("SectionOf(%q) = %s, want %s", key, got, want)
		}
	}
}

func TestClassify_StablePartition(t *testing.T) {
	in := []Analyte{
		an("1", "EQ_PROTEINAS", "Proteínas", KindText, 2),
		an("2", "EF_COLOR", "Color", KindText, 1),
		an("3", "EQ_GLUCOSA", "Glucosa", KindText, 1),
		an("4", "EQ_CETONAS", "Cetonas", KindText, 2),
		an("5", "NOTAS", "Notas", KindText, 0),
		an("6", "EM_LEUCOCITOS", "Leucocitos", KindText, 5),
		an("7", "EQ_PH", "pH", KindText, 1),
	}
	g := Classify(in)

	if g.Len() != len(in) {
		t.Fatalf("expected %d classified analytes, got %d", len(in), g.Len())
	}
	ids := func(as []Analyte) string {
		s := ""
		for _, a := range as {
			s += a.ID
		}
		return s
	}
	// Equal sort orders keep input order: 3 before 7, 1 before 4.
	if got := ids(g.Chemical); got != "3714" {
		t.Errorf("chemical order = %s, want 3714", got)
	}
	if ids(g.Physical) != "2" || ids(g.Microscopic) != "6" || ids(g.Other) != "5" {
		t.Errorf("unexpected buckets %+v", g)
	}
	if in[0].ID != "1" || in[2].ID != "3" {
		t.Error("input slice was reordered")
	}
}

func TestGroups_Buckets(t *testing.T) {
	g := Classify([]Analyte{
		an("1", "EM_HEMATIES", "Hematíes", KindText, 1),
		an("2", "EF_ASPECTO", "Aspecto", KindText, 1),
	})
	b := g.Buckets()
	if len(b) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d", len(b))
	}
	if b[0].Section != SectionPhysical || b[0].Title != "Examen Físico" {
		t.Errorf("unexpected first bucket %+v", b[0])
	}
	if b[1].Section != SectionMicroscopic || b[1].Title != "Examen microscópico de sedimento (x400)" {
		t.Errorf("unexpected second bucket %+v", b[1])
	}
	if SectionOther.Title() != "" {
		t.Error("other section has no title")
	}
}
