package nomenclador

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCode   = errors.New("unknown nomenclador code")
	ErrInvalidFactor = errors.New("price factor must be a positive number")
)

// ShortCodePrefix completes the four-digit codes clerks usually type.
const ShortCodePrefix = "66"

// Entry is one billable determination of the nomenclador. UB is the number
// of bioquímica units it is worth.
type Entry struct {
	Code          string          `json:"codigo"`
	Determination string          `json:"determinacion"`
	UB            decimal.Decimal `json:"ub"`
}

var (
	codeToken = regexp.MustCompile(`\d{5,7}`)
	shortCode = regexp.MustCompile(`^\d{4}$`)
)

// NormalizeCode trims raw and prefixes four-digit codes with 66.
func NormalizeCode(raw string) string {
	s := strings.TrimSpace(raw)
	if shortCode.MatchString(s) {
		return ShortCodePrefix + s
	}
	return s
}

// ExtractCodes returns every 5 to 7 digit token of raw, first occurrence
// first, without repeats. A longer digit run is consumed 7 digits at a time.
func ExtractCodes(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range codeToken.FindAllString(raw, -1) {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
