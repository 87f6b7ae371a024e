// Package lexicon corrects recognizer output against a configured domain
// vocabulary before the text reaches the dialogue engine.
//
// Telephone recognizers reliably mangle proper nouns and menu terms the
// caller cares most about ("margarita" for "margherita", "shay maurice"
// for "Chez Maurice"). The corrector aligns spoken words with the
// vocabulary in two stages:
//
//  1. Phonetic candidate filtering. Double Metaphone codes are computed
//     for each window of input tokens and for each vocabulary term; a code
//     hit for every word in the window makes the term a phonetic
//     candidate.
//  2. Jaro-Winkler ranking. Among phonetic candidates the highest-scoring
//     term wins, provided it clears the phonetic threshold. When no
//     phonetic candidate exists, a pure similarity pass applies with a
//     stricter fuzzy threshold.
//
// Multi-word terms are matched against n-gram windows, longest window
// first, so "Chez Maurice" takes precedence over a partial match on
// "maurice" alone. The corrector is read-only after construction and safe
// for concurrent use across call workers.
package lexicon

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinTokenLength    = 3
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// WithMinTokenLength sets the shortest single word the corrector will try
// to match. Function words like "a" and "the" otherwise collide with short
// vocabulary terms. Default: 3.
func WithMinTokenLength(n int) Option {
	return func(c *Corrector) {
		c.minTokenLen = n
	}
}

// Correction records one replacement the corrector applied.
type Correction struct {
	// Original is the window of spoken tokens that was replaced.
	Original string

	// Corrected is the vocabulary term that replaced it, in its
	// configured casing.
	Corrected string

	// Confidence is the Jaro-Winkler score of the winning comparison.
	Confidence float64
}

// term is one prepared vocabulary entry. Metaphone codes are computed once
// at construction; matching touches only this precomputed form.
type term struct {
	display string
	lower   string
	tokens  []string
	codes   map[string]struct{}
}

// Corrector aligns transcripts with a fixed vocabulary. Zero-vocabulary
// correctors are valid and return every input unchanged.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minTokenLen       int

	terms    []term
	maxWords int
}

// New prepares a corrector for the given vocabulary. Blank entries are
// skipped; casing of the surviving entries is preserved in replacements.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minTokenLen:       defaultMinTokenLength,
	}
	for _, o := range opts {
		o(c)
	}
	for _, entry := range vocabulary {
		display := strings.TrimSpace(entry)
		lower := strings.ToLower(display)
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			display: display,
			lower:   lower,
			tokens:  tokens,
			codes:   codesForTokens(tokens),
		})
		if len(tokens) > c.maxWords {
			c.maxWords = len(tokens)
		}
	}
	return c
}

// Len returns the number of prepared vocabulary terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with vocabulary terms substituted for their
// misheard forms.
func (c *Corrector) Correct(text string) string {
	out, _ := c.Apply(text)
	return out
}

// Apply corrects text and reports every substitution it made. Windows that
// already equal a vocabulary term are rewritten to the term's canonical
// casing without being reported as corrections.
func (c *Corrector) Apply(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := min(c.maxWords, len(tokens)-i)

		consumed := 0
		for n := maxN; n >= 1; n-- {
			cores, trail, ok := windowCores(tokens[i : i+n])
			if !ok {
				continue
			}
			if n == 1 && len([]rune(cores[0])) < c.minTokenLen {
				continue
			}

			window := strings.Join(cores, " ")
			hit, conf, matched := c.match(window, cores)
			if !matched {
				continue
			}

			replacement := strings.Fields(hit)
			replacement[len(replacement)-1] += trail
			output = append(output, replacement...)
			if !strings.EqualFold(window, hit) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  hit,
					Confidence: conf,
				})
			}
			consumed = n
			break
		}

		if consumed == 0 {
			output = append(output, tokens[i])
			i++
		} else {
			i += consumed
		}
	}

	return strings.Join(output, " "), corrections
}

// match ranks the vocabulary against one lowercased token window. Phonetic
// candidates always outrank fuzzy-only ones.
func (c *Corrector) match(window string, tokens []string) (string, float64, bool) {
	tokenCodes := make([]map[string]struct{}, len(tokens))
	for i := range tokens {
		tokenCodes[i] = codesForTokens(tokens[i : i+1])
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range c.terms {
		// A window never replaces more spoken words than the term
		// contains; one shared token must not eat its neighbours.
		if len(tokens) > len(t.tokens) {
			continue
		}

		// Phonetic candidacy needs a code hit for every spoken word in
		// the window. One overlapping token would otherwise drag
		// unrelated neighbours under the lower threshold.
		phonetic := true
		for _, codes := range tokenCodes {
			if !codesOverlap(codes, t.codes) {
				phonetic = false
				break
			}
		}

		score := bestSimilarity(tokens, t.tokens, window, t.lower)
		if phonetic {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.display, score, true
			}
		} else if !bestPhonetic {
			if score >= c.fuzzyThreshold && score > bestScore {
				best, bestScore = t.display, score
			}
		}
	}

	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

// windowCores strips trailing punctuation for matching. The trail of the
// final token is returned so the replacement can keep it; interior
// punctuation rejects the window, a phrase does not span a comma.
func windowCores(tokens []string) (cores []string, trail string, ok bool) {
	cores = make([]string, len(tokens))
	for i, tok := range tokens {
		core := strings.TrimRightFunc(tok, unicode.IsPunct)
		if core == "" {
			return nil, "", false
		}
		if core != tok && i != len(tokens)-1 {
			return nil, "", false
		}
		cores[i] = strings.ToLower(core)
		if i == len(tokens)-1 {
			trail = tok[len(core):]
		}
	}
	return cores, trail, true
}

// codesForTokens returns the union of Double Metaphone codes for the
// tokens. Codes that come back empty are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between the input
// window and a term. Full strings and space-stripped strings are always
// compared; per-token comparison applies only to single-token windows, a
// multi-token window must resemble the whole term or it would consume
// neighbouring words on the strength of one shared token.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joined1 := strings.Join(inputTokens, "")
		joined2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(inputTokens[0], tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
