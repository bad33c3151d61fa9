package results

import (
	"regexp"
	"sort"
)

// Section groups the analytes of a multi-section exam (urinalysis).
type Section string

const (
	SectionPhysical    Section = "EF"
	SectionChemical    Section = "EQ"
	SectionMicroscopic Section = "EM"
	SectionOther       Section = "OTHER"
)

var sectionTitles = map[Section]string{
	SectionPhysical:    "Examen Físico",
	SectionChemical:    "Examen Químico",
	SectionMicroscopic: "Examen microscópico de sedimento (x400)",
}

// Title returns the printable heading; SectionOther has none.
func (s Section) Title() string { return sectionTitles[s] }

var sectionPrefix = regexp.MustCompile(`^([A-Z]{2})_`)

// SectionOf classifies a catalog key by its two-letter prefix.
func SectionOf(itemKey string) Section {
	m := sectionPrefix.FindStringSubmatch(itemKey)
	if m == nil {
		return SectionOther
	}
	switch s := Section(m[1]); s {
	case SectionPhysical, SectionChemical, SectionMicroscopic:
		return s
	}
	return SectionOther
}

// Groups is the sectioned view of one order line.
type Groups struct {
	Physical    []Analyte `json:"EF"`
	Chemical    []Analyte `json:"EQ"`
	Microscopic []Analyte `json:"EM"`
	Other       []Analyte `json:"OTHER"`
}

// Bucket is one non-empty section in display order.
type Bucket struct {
	Section  Section   `json:"section"`
	Title    string    `json:"title,omitempty"`
	Analytes []Analyte `json:"analytes"`
}

// Buckets returns the non-empty sections ordered physical, chemical,
// microscopic, other.
func (g Groups) Buckets() []Bucket {
	var out []Bucket
	for _, b := range []Bucket{
		{Section: SectionPhysical, Analytes: g.Physical},
		{Section: SectionChemical, Analytes: g.Chemical},
		{Section: SectionMicroscopic, Analytes: g.Microscopic},
		{Section: SectionOther, Analytes: g.Other},
	} {
		if len(b.Analytes) == 0 {
			continue
		}
		b.Title = b.Section.Title()
		out = append(out, b)
	}
	return out
}

// Len is the number of classified analytes.
func (g Groups) Len() int {
	return len(g.Physical) + len(g.Chemical) + len(g.Microscopic) + len(g.Other)
}

// Classify partitions analytes by section. Each bucket is stable-sorted by
// catalog sort order so ties keep their input order. The input is not
// modified.
func Classify(analytes []Analyte) Groups {
	var g Groups
	for _, a := range analytes {
		switch SectionOf(a.ItemDef.Key) {
		case SectionPhysical:
			g.Physical = append(g.Physical, a)
		case SectionChemical:
			g.Chemical = append(g.Chemical, a)
		case SectionMicroscopic:
			g.Microscopic = append(g.Microscopic, a)
		default:
			g.Other = append(g.Other, a)
		}
	}
	for _, bucket := range [][]Analyte{g.Physical, g.Chemical, g.Microscopic, g.Other} {
		sortBySortOrder(bucket)
	}
	return g
}

func sortBySortOrder(as []Analyte) {
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].ItemDef.SortOrder < as[j].ItemDef.SortOrder
	})
}
