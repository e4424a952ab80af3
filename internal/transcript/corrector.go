package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// multiWordGuard is the minimum whole-window similarity for a multi-token
// substitution. Without it a window sharing one token with a multi-word term
// ("they visited tower") would claim the whole term on that token alone.
const multiWordGuard = 0.70

// Correction records one glossary substitution applied to a transcript.
type Correction struct {
	// Original is the recognised span that was replaced.
	Original string

	// Corrected is the glossary term substituted in.
	Corrected string

	// Confidence is the similarity score that justified the substitution.
	Confidence float64
}

// Corrector rewrites glossary terms the recogniser mangled. It holds the
// glossary and a [Matcher]; build one per configuration and reuse it — the
// Corrector is safe for concurrent use.
type Corrector struct {
	matcher *Matcher
	terms   []string
	maxN    int
}

// NewCorrector builds a Corrector over the given glossary terms. An empty
// glossary yields a corrector whose Correct is the identity.
func NewCorrector(terms []string, opts ...MatcherOption) *Corrector {
	kept := make([]string, 0, len(terms))
	maxN := 0
	for _, t := range terms {
		n := len(strings.Fields(t))
		if n == 0 {
			continue
		}
		kept = append(kept, t)
		if n > maxN {
			maxN = n
		}
	}
	return &Corrector{
		matcher: NewMatcher(opts...),
		terms:   kept,
		maxN:    maxN,
	}
}

// Correct scans text for spans that phonetically match a glossary term and
// substitutes the canonical spelling. At each token position it tries n-gram
// windows from the longest glossary term down to a single word, so multi-word
// terms take precedence over partial single-word matches.
//
// Exact-case occurrences of a glossary term are left alone; they already read
// correctly and a rewrite would only churn the text.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c.maxN == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	exact := make(map[string]struct{}, len(c.terms))
	for _, t := range c.terms {
		exact[t] = struct{}{}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxN
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			if _, ok := exact[window]; ok {
				output = append(output, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}
			term, conf, ok := c.matcher.Match(window, c.terms)
			if !ok || term == window {
				continue
			}
			if n > 1 && !wholeWindowSimilar(window, term) {
				continue
			}
			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// wholeWindowSimilar compares the space-stripped window against the
// space-stripped term, so the substitution has to resemble the entire span
// it replaces. Lengths must be within a 8:5 ratio; a shared prefix on wildly
// different lengths ("tower gate" vs "Tower of Whispers") is not a match.
func wholeWindowSimilar(window, term string) bool {
	strip := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), ""))
	}
	a, b := strip(window), strip(term)
	if len(a)*8 < len(b)*5 || len(b)*8 < len(a)*5 {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= multiWordGuard
}
