package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMustForceSearch(t *testing.T) {
	c := New(Lexicon{})

	tests := []struct {
		utterance string
		want      bool
		rule      Rule
	}{
		{"what is a gated community", false, RuleKnowledge},
		{"current price in Gachibowli", true, RuleRecency},
		{"price in Pocharam", true, RulePriceAndPlace},
		{"tell me about Hyderabad", false, RuleKnowledge},
		{"Tell me about plot prices in Kokapet", false, RuleKnowledge},
		{"What is RC Bridge's brokerage model?", false, RuleKnowledge},
		{"current land rate in Pocharam", true, RuleRecency},
		{"latest news on Kompally", true, RuleRecency},
		{"how much per acre near Shamshabad", true, RulePriceAndPlace},
		{"plot rates in 2025", true, RuleRecency},
		{"villas near Hitech   City", false, RuleDelegateToModel},
		{"What’s the cost of a 2BHK in Kondapur", false, RuleKnowledge},
		{"I want a 3BHK flat", false, RuleDelegateToModel},
		{"", false, RuleDelegateToModel},
		{"   ", false, RuleDelegateToModel},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			v := c.Classify(tt.utterance)
			assert.Equal(t, tt.want, v.ForceSearch)
			assert.Equal(t, tt.rule, v.Rule)
			assert.Equal(t, tt.want, c.MustForceSearch(tt.utterance))
		})
	}
}

func TestCaseInsensitive(t *testing.T) {
	c := New(Lexicon{})
	assert.True(t, c.MustForceSearch("CURRENT PRICE IN GACHIBOWLI"))
	assert.False(t, c.MustForceSearch("WHAT IS a gated community"))
}

func TestWordBoundaries(t *testing.T) {
	c := New(Lexicon{})
	// "accurate" contains "rate", "know" contains "now": neither is a term.
	assert.False(t, c.MustForceSearch("is the Gachibowli listing accurate"))
	assert.False(t, c.MustForceSearch("do you know Madhapur well"))
	// "20255" is not a year.
	assert.False(t, c.MustForceSearch("listing 20255 in Uppal"))
}

func TestYearsAsRecency(t *testing.T) {
	c := New(Lexicon{})
	c.now = func() time.Time { return time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		utterance string
		want      bool
	}{
		{"land rates in Kokapet 2026", true},
		{"Kokapet plots 2026", true},
		{"Kokapet plots in 2031", true},
		{"Kokapet plots 1850", false},
		{"Kokapet plots 2099", false},
		{"2000 sq ft villa in Kokapet", false},
		{"1500 sq. ft flat near Mokila", false},
		{"2000-sqft duplex in Tellapur", false},
		{"1200 yards in Kollur", false},
		{"budget rs 2000 in Uppal", false},
		{"₹2000 deposit in Uppal", false},
		{"2000 sq ft villa in Kokapet built in 2024", true},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.want, c.MustForceSearch(tt.utterance))
		})
	}
}

func TestKnowledgePrefixMustOpenUtterance(t *testing.T) {
	c := New(Lexicon{})
	assert.True(t, c.MustForceSearch("price in Narsingi, and explain why"))
	assert.False(t, c.MustForceSearch(`"Explain" current rates in Narsingi`))
}

func TestLexiconOverrides(t *testing.T) {
	c := New(Lexicon{Locations: []string{"Whitefield", "Electronic City"}})

	assert.True(t, c.MustForceSearch("price in Whitefield"))
	assert.True(t, c.MustForceSearch("latest in electronic  city"))
	assert.False(t, c.MustForceSearch("price in Gachibowli"), "default locations replaced")
	assert.True(t, c.MustForceSearch("current price"), "other lists keep defaults")
}

func TestEmptyTermsIgnored(t *testing.T) {
	c := New(Lexicon{PriceTerms: []string{"", "  "}, Locations: []string{"Kollur"}})
	assert.False(t, c.MustForceSearch("price in Kollur"))
	assert.True(t, c.MustForceSearch("today in Kollur"))
}

func TestClassifierIsPure(t *testing.T) {
	c := New(Lexicon{})
	for i := 0; i < 3; i++ {
		assert.True(t, c.MustForceSearch("current price in Gachibowli"))
	}
}
