// Package intent decides whether a user question needs live search before
// the language model is consulted.
package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Rule names which classifier rule produced a verdict.
type Rule string

// Rules, in evaluation order.
const (
	RuleKnowledge       Rule = "knowledge_prefix"
	RuleRecency         Rule = "recency_with_price_or_location"
	RulePriceAndPlace   Rule = "price_with_location"
	RuleDelegateToModel Rule = "delegate_to_model"
)

// Verdict is the outcome of classifying one utterance.
type Verdict struct {
	ForceSearch bool
	Rule        Rule
}

// yearPattern finds standalone four-digit numbers that could be years.
var yearPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])((?:19|20)\d{2})(?:$|[^\p{L}\p{N}_])`)

// A number followed by a unit or preceded by a currency marker is a
// quantity, not a year.
var (
	unitAfter   = regexp.MustCompile(`^[\s-]*(?:sq\.?|sqft|sft|square|ft|feet|foot|yards?|yds?|acres?|gaj|guntas?|units?|flats?|plots?|bhk|rs\.?|inr|₹|lakhs?|crores?|cr|km)(?:$|[^\p{L}\p{N}_])`)
	moneyBefore = regexp.MustCompile(`(?:₹|\brs\.?|\binr)\s*$`)
)

// Years outside [minYear, now+maxYearsAhead] are not treated as recency.
const (
	minYear       = 1990
	maxYearsAhead = 5
)

var spaceRun = regexp.MustCompile(`\s+`)

// Classifier is a pure keyword classifier. It is safe for concurrent use.
type Classifier struct {
	knowledge *regexp.Regexp
	recency   *regexp.Regexp
	price     *regexp.Regexp
	location  *regexp.Regexp
	now       func() time.Time
}

// New compiles lex into a classifier. Empty lists fall back to DefaultLexicon.
func New(lex Lexicon) *Classifier {
	lex = lex.merged()
	return &Classifier{
		knowledge: compile(lex.KnowledgePrefixes, true),
		recency:   compile(lex.RecencyTerms, false),
		price:     compile(lex.PriceTerms, false),
		location:  compile(lex.Locations, false),
		now:       time.Now,
	}
}

// MustForceSearch reports whether search must run before the first
// completion for this utterance.
func (c *Classifier) MustForceSearch(utterance string) bool {
	return c.Classify(utterance).ForceSearch
}

// Classify applies the rules in priority order; the first match wins:
//  1. a general-knowledge opening never forces search;
//  2. a recency term together with a price or location term forces search;
//  3. a price term together with a location term forces search;
//  4. otherwise the decision is left to the model's own tool use.
func (c *Classifier) Classify(utterance string) Verdict {
	u := normalize(utterance)
	if u == "" {
		return Verdict{Rule: RuleDelegateToModel}
	}
	if c.knowledge.MatchString(u) {
		return Verdict{Rule: RuleKnowledge}
	}

	price := c.price.MatchString(u)
	place := c.location.MatchString(u)
	recent := c.recency.MatchString(u) || c.mentionsYear(u)

	switch {
	case recent && (price || place):
		return Verdict{ForceSearch: true, Rule: RuleRecency}
	case price && place:
		return Verdict{ForceSearch: true, Rule: RulePriceAndPlace}
	default:
		return Verdict{Rule: RuleDelegateToModel}
	}
}

// mentionsYear reports whether u names a plausible calendar year. Sizes and
// amounts such as "2000 sq ft" or "rs 1500" do not count.
func (c *Classifier) mentionsYear(u string) bool {
	latest := c.now().Year() + maxYearsAhead
	for _, m := range yearPattern.FindAllStringSubmatchIndex(u, -1) {
		start, end := m[2], m[3]
		year, err := strconv.Atoi(u[start:end])
		if err != nil || year < minYear || year > latest {
			continue
		}
		if unitAfter.MatchString(u[end:]) || moneyBefore.MatchString(u[:start]) {
			continue
		}
		return true
	}
	return false
}

// normalize lower-cases, collapses whitespace and strips leading quotes or
// punctuation a chat widget may prepend.
func normalize(s string) string {
	s = strings.ToLower(spaceRun.ReplaceAllString(s, " "))
	s = strings.ReplaceAll(s, "’", "'")
	return strings.TrimLeft(strings.TrimSpace(s), `"'“‘¿¡-*> `)
}

// compile builds one alternation matching any term on word boundaries.
// With anchored set, the term must open the text.
func compile(terms []string, anchored bool) *regexp.Regexp {
	alts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		words := strings.Fields(t)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) == 0 {
		return regexp.MustCompile(`[^\x00-\x{10FFFF}]`) // matches nothing
	}
	// Longest first so "this month" wins over "this" style overlaps.
	sort.Slice(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })

	open := `(?:^|[^\p{L}\p{N}_])`
	if anchored {
		open = `^`
	}
	return regexp.MustCompile(open + `(?:` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}
