package moderation

import (
	"context"
	"math"
	"strings"
	"unicode"
)

const (
	CategoryProfanity = "profanity"
	CategoryBlocklist = "blocklist"
)

var defaultTerms = map[string]string{
	"damn":   CategoryProfanity,
	"hell":   CategoryProfanity,
	"crap":   CategoryProfanity,
	"idiot":  CategoryProfanity,
	"stupid": CategoryProfanity,
	"kill":   "violence",
	"blood":  "violence",
	"bloody": "violence",
	"murder": "violence",
	"stab":   "violence",
	"weapon": "violence",
	"gun":    "violence",
}

// Lexicon is an offline text classifier. Each matched term adds risk to its
// category; blocklisted phrases are always maximal risk.
type Lexicon struct {
	Terms     map[string]string
	Blocklist []string
	// Base is the risk of a single hit; each further hit adds Step.
	Base float64
	Step float64
}

func NewLexicon(blocklist []string) *Lexicon {
	return &Lexicon{Terms: defaultTerms, Blocklist: blocklist, Base: 0.3, Step: 0.1}
}

func normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(fields, " ") + " "
}

func (l *Lexicon) Moderate(_ context.Context, text string) (map[string]float64, error) {
	norm := normalize(text)
	out := map[string]float64{}
	for _, phrase := range l.Blocklist {
		if p := strings.TrimSpace(normalize(phrase)); p != "" && strings.Contains(norm, " "+p+" ") {
			out[CategoryBlocklist] = 1
		}
	}
	hits := map[string]int{}
	for _, w := range strings.Fields(norm) {
		if cat, ok := l.Terms[w]; ok {
			hits[cat]++
		}
	}
	for cat, n := range hits {
		out[cat] = math.Min(1, l.Base+l.Step*float64(n-1))
	}
	return out, nil
}
