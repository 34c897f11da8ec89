package vintage

import (
	"strconv"
	"time"
)

// Rule projects a set of overseas codes that the catalog cannot project.
// A rule without Threshold keeps codes unchanged at any date; otherwise the
// code is Before until Threshold and After from Threshold on.
type Rule struct {
	Name      string
	Codes     []string
	Threshold time.Time
	Before    string
	After     string
}

// Apply returns the code valid at target.
func (r Rule) Apply(code string, target time.Time) string {
	if r.Threshold.IsZero() {
		return code
	}
	if target.Before(r.Threshold) {
		return r.Before
	}
	return r.After
}

var overseasSplit = time.Date(2008, time.January, 1, 0, 0, 0, 0, time.UTC)

// UltramarineRules covers overseas collectivities whose city codes never
// changed, plus the three territories recoded when they left Guadeloupe and
// French Polynesia in 2008.
var UltramarineRules = []Rule{
	{Name: "fixed", Codes: concat(
		codeRange(97501, 97502), // Saint-Pierre-et-Miquelon
		codeRange(98411, 98415), // Terres australes et antarctiques
		codeRange(98611, 98613), // Wallis-et-Futuna
		codeRange(98711, 98758), // Polynésie française
		codeRange(98801, 98833), // Nouvelle-Calédonie
	)},
	{Name: "saint-barthelemy", Codes: []string{"97123", "97701"}, Threshold: overseasSplit, Before: "97123", After: "97701"},
	{Name: "saint-martin", Codes: []string{"97127", "97801"}, Threshold: overseasSplit, Before: "97127", After: "97801"},
	{Name: "clipperton", Codes: []string{"98799", "98901"}, Threshold: overseasSplit, Before: "98799", After: "98901"},
}

// RuleTable indexes rules by code.
type RuleTable struct {
	byCode map[string]Rule
}

// NewRuleTable indexes rules. A code listed by several rules keeps the last one.
func NewRuleTable(rules []Rule) *RuleTable {
	t := &RuleTable{byCode: make(map[string]Rule)}
	for _, r := range rules {
		for _, c := range r.Codes {
			t.byCode[c] = r
		}
	}
	return t
}

// Lookup returns the projection of code at target when a rule covers it.
func (t *RuleTable) Lookup(code string, target time.Time) (string, bool) {
	r, ok := t.byCode[code]
	if !ok {
		return "", false
	}
	return r.Apply(code, target), true
}

func codeRange(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for c := from; c <= to; c++ {
		out = append(out, strconv.Itoa(c))
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
