// CLAUDE:SUMMARY Text normalization for French place names: accent stripping, label folding, city label cleaning, postcode padding.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Ligatures that NFD does not decompose.
var ligatures = strings.NewReplacer("Œ", "OE", "œ", "oe", "Æ", "AE", "æ", "ae", "ß", "ss")

var (
	nonWord       = regexp.MustCompile(`[^0-9A-Za-z]+`)
	trailingParen = regexp.MustCompile(` \(.*\)$`)
	saint         = regexp.MustCompile(`(^| )ST( |$)`)
	sainte        = regexp.MustCompile(`(^| )STE( |$)`)
	cedex         = regexp.MustCompile(`(^| )CEDEX( \d+)?( |$)`)
	kmSuffix      = regexp.MustCompile(` \d{2,} ?(E|EME|ER)? ?KM$`)
	spaces        = regexp.MustCompile(` {2,}`)
)

// StripAccents removes combining marks (Élodie -> Elodie).
func StripAccents(s string) string {
	result, _, _ := transform.String(stripAccents, ligatures.Replace(s))
	return result
}

// Label folds s to uppercase ASCII words separated by single spaces.
// "Alpes-de-Haute-Provence" -> "ALPES DE HAUTE PROVENCE".
func Label(s string) string {
	s = StripAccents(strings.ToUpper(s))
	return strings.TrimSpace(nonWord.ReplaceAllString(s, " "))
}

// CityLabel cleans a free-text city label before matching:
// "Sourd (Le)" -> "SOURD", "St-Étienne Cedex 2" -> "SAINT ETIENNE".
func CityLabel(s string) string {
	s = trailingParen.ReplaceAllString(strings.TrimSpace(s), "")
	s = Label(s)
	// Applied twice: adjacent matches share the separating space.
	for range 2 {
		s = saint.ReplaceAllString(s, "${1}SAINT${2}")
		s = sainte.ReplaceAllString(s, "${1}SAINTE${2}")
	}
	s = cedex.ReplaceAllString(s, "${3}")
	s = kmSuffix.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Postcode trims s and left-pads purely numeric 4-digit codes whose
// leading zero was lost ("2140" -> "02140").
func Postcode(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 4 && isDigits(s) {
		return "0" + s
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Cache memoizes a normalizer per distinct input. Not safe for concurrent use.
type Cache struct {
	fn   func(string) string
	memo map[string]string
}

// NewCache wraps fn.
func NewCache(fn func(string) string) *Cache {
	return &Cache{fn: fn, memo: make(map[string]string)}
}

// Get returns fn(s), computing it once per distinct s.
func (c *Cache) Get(s string) string {
	if v, ok := c.memo[s]; ok {
		return v
	}
	v := c.fn(s)
	c.memo[s] = v
	return v
}
