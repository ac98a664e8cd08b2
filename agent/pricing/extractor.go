// Package pricing pulls rupee amounts out of free-form vendor speech and
// judges whether they are plausible for the requested trip.
package pricing

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

const (
	MinPlausible = 100
	MaxPlausible = 50000

	// Plausibility band relative to the market range.
	LowFactor  = 0.3
	HighFactor = 2.0
)

const (
	hazaarDecomposed = "\u0939\u091c\u093c\u093e\u0930"
	hazaarComposed   = "\u0939\u095b\u093e\u0930"
	hazaarPlain      = "\u0939\u091c\u093e\u0930"
)

var amountPattern = regexp.MustCompile(
	`(₹|\brs\.?|\binr)?\s*(\d+(?:\.\d+)?)\s*(k\b|thousand|hazaar|hazar|hajar|` +
		hazaarDecomposed + `|` + hazaarComposed + `|` + hazaarPlain + `)?\s*` +
		`(/-|rupees|rupee|rupaye|rupay|rs\b|inr|रुपये|रुपए|रुपया)?`,
)

// Words that mark a number as something other than a price.
var unitWords = map[string]bool{
	"km": true, "kms": true, "kilometer": true, "kilometers": true, "kilometre": true,
	"seater": true, "seats": true, "seat": true, "people": true, "log": true, "passengers": true, "persons": true,
	"hours": true, "hour": true, "hrs": true, "hr": true, "ghante": true, "ghanta": true, "minutes": true, "min": true, "mins": true,
	"baje": true, "am": true, "pm": true, "days": true, "din": true, "bags": true, "litre": true,
}

// Candidate is one amount found in an utterance.
type Candidate struct {
	Value float64
	Cued  bool
}

// Candidates returns every amount within the plausible range in utterance order.
func Candidates(text string) []Candidate {
	norm := normalize(text)
	var out []Candidate
	for _, m := range amountPattern.FindAllStringSubmatchIndex(norm, -1) {
		num, err := strconv.ParseFloat(norm[m[4]:m[5]], 64)
		if err != nil {
			continue
		}
		mult := ""
		if m[6] >= 0 {
			mult = norm[m[6]:m[7]]
		}
		if mult != "" {
			num *= 1000
		}
		cued := m[2] >= 0 || m[8] >= 0
		if !cued && mult == "" && followedByUnit(norm[m[1]:]) {
			continue
		}
		if num < MinPlausible || num > MaxPlausible {
			continue
		}
		out = append(out, Candidate{Value: num, Cued: cued})
	}
	return out
}

// Extract returns the amount the vendor most likely quoted: the last
// currency-marked amount, else the last bare one.
func Extract(text string) (float64, bool) {
	cands := Candidates(text)
	for i := len(cands) - 1; i >= 0; i-- {
		if cands[i].Cued {
			return cands[i].Value, true
		}
	}
	if len(cands) > 0 {
		return cands[len(cands)-1].Value, true
	}
	return 0, false
}

// Suspicious reports a price outside [0.3×low, 2.0×high]. Without a usable
// market range nothing is suspicious.
func Suspicious(price float64, market statex.MarketRange) bool {
	if !market.Valid() {
		return false
	}
	return price < LowFactor*market.Low || price > HighFactor*market.High
}

// InRange reports whether price passes the absolute filter.
func InRange(price float64) bool {
	return price >= MinPlausible && price <= MaxPlausible
}

func followedByUnit(rest string) bool {
	rest = strings.TrimLeft(rest, " ")
	end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(rest)
	}
	return unitWords[rest[:end]]
}

// normalize lower-cases, maps Devanagari digits and drops digit-group separators.
func normalize(text string) string {
	runes := []rune(strings.ToLower(text))
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if r >= '०' && r <= '९' {
			r = '0' + (r - '०')
			runes[i] = r
		}
		if r == ',' && i > 0 && i+1 < len(runes) && isDigit(runes[i-1]) && isDigit(runes[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= '०' && r <= '९')
}
