package intent

// Lexicon holds the keyword lists the classifier matches against.
// Terms are case-insensitive; multi-word terms match across any run of
// whitespace.
type Lexicon struct {
	KnowledgePrefixes []string
	RecencyTerms      []string
	PriceTerms        []string
	Locations         []string
}

// DefaultLexicon returns the built-in lists, tuned for Hyderabad listings.
func DefaultLexicon() Lexicon {
	return Lexicon{
		KnowledgePrefixes: []string{
			"what is", "what are", "what's", "whats",
			"how to", "how do", "how does", "how can",
			"explain", "why", "define", "meaning of",
			"tell me about", "benefits of", "advantages of",
			"disadvantages of", "difference between",
		},
		RecencyTerms: []string{
			"current", "currently", "latest", "today", "now", "nowadays",
			"this month", "this year", "this week", "recent", "recently",
			"as of", "upcoming", "trending",
		},
		PriceTerms: []string{
			"price", "prices", "pricing", "cost", "costs", "rate", "rates",
			"how much", "per acre", "per sq ft", "per sqft", "per square foot",
			"per square feet", "per square yard", "per sq yard", "per yard",
			"valuation", "rent", "rental", "lakh", "lakhs", "crore", "crores",
			"appreciation",
		},
		Locations: []string{
			"Hyderabad", "Secunderabad", "Gachibowli", "Kondapur", "Pocharam",
			"Hitech City", "Hitec City", "Madhapur", "Kokapet", "Narsingi",
			"Shamshabad", "Financial District", "Nanakramguda", "Puppalaguda",
			"Manikonda", "Tellapur", "Kollur", "Shankarpally", "Patancheru",
			"Miyapur", "Bachupally", "Kukatpally", "Kompally", "Medchal",
			"Uppal", "Ghatkesar", "Adibatla", "LB Nagar", "Hayathnagar",
			"Banjara Hills", "Jubilee Hills", "Begumpet", "Sainikpuri",
			"Mokila", "Maheshwaram",
		},
	}
}

// merged fills every empty list of l from DefaultLexicon.
func (l Lexicon) merged() Lexicon {
	d := DefaultLexicon()
	if len(l.KnowledgePrefixes) == 0 {
		l.KnowledgePrefixes = d.KnowledgePrefixes
	}
	if len(l.RecencyTerms) == 0 {
		l.RecencyTerms = d.RecencyTerms
	}
	if len(l.PriceTerms) == 0 {
		l.PriceTerms = d.PriceTerms
	}
	if len(l.Locations) == 0 {
		l.Locations = d.Locations
	}
	return l
}
