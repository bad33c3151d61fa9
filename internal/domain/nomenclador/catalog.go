package nomenclador

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Catalog is an immutable, code-indexed copy of the nomenclador.
type Catalog struct {
	entries []Entry
	byCode  map[string]int
}

// NewCatalog indexes entries by code. Entries are kept sorted by code; a
// repeated code keeps its first entry.
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{byCode: make(map[string]int, len(entries))}
	for _, e := range entries {
		e.Code = strings.TrimSpace(e.Code)
		if e.Code == "" {
			continue
		}
		if _, dup := c.byCode[e.Code]; dup {
			continue
		}
		c.byCode[e.Code] = -1
		c.entries = append(c.entries, e)
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].Code < c.entries[j].Code })
	for i, e := range c.entries {
		c.byCode[e.Code] = i
	}
	return c
}

func (c *Catalog) Len() int { return len(c.entries) }

// All returns a copy of every entry.
func (c *Catalog) All() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Lookup finds an entry by code; four-digit codes are completed first.
func (c *Catalog) Lookup(code string) (Entry, bool) {
	i, ok := c.byCode[NormalizeCode(code)]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Search filters the catalog. A numeric query matches code prefixes, either
// as typed or completed with 66; anything else matches the determination,
// case-insensitively. An empty query returns everything.
func (c *Catalog) Search(q string) []Entry {
	s := strings.ToLower(strings.TrimSpace(q))
	if s == "" {
		return c.All()
	}
	numeric := isDigits(s)
	out := []Entry{}
	for _, e := range c.entries {
		var match bool
		if numeric {
			match = strings.HasPrefix(e.Code, s) || strings.HasPrefix(e.Code, ShortCodePrefix+s)
		} else {
			match = strings.Contains(strings.ToLower(e.Determination), s)
		}
		if match {
			out = append(out, e)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Estimate is the price of a set of determinations.
type Estimate struct {
	Lines   []Entry         `json:"lines"`
	Missing []string        `json:"missing,omitempty"`
	TotalUB decimal.Decimal `json:"total_ub"`
	Factor  int64           `json:"factor"`
	Total   decimal.Decimal `json:"total"`
}

// Estimate prices codes at factor per UB. Each code counts once; codes not
// in the catalog are reported in Missing and add nothing.
func (c *Catalog) Estimate(codes []string, factor int64) Estimate {
	est := Estimate{Lines: []Entry{}, Factor: factor}
	seen := map[string]bool{}
	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		e, ok := c.Lookup(code)
		if !ok {
			est.Missing = append(est.Missing, code)
			continue
		}
		est.Lines = append(est.Lines, e)
		est.TotalUB = est.TotalUB.Add(e.UB)
	}
	est.Total = est.TotalUB.Mul(decimal.NewFromInt(factor))
	return est
}
