package search

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"estate-assistant/internal/domain"
)

const maxSnippetChars = 200

// FormatForModel renders results as a numbered block with one source URL per
// entry and snippets of at most 200 characters. With no results it returns
// an instruction to answer from the model's own knowledge and point the user
// at contactChannel instead.
func FormatForModel(query string, results []domain.SearchResult, contactChannel string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No live search results were found for %q. "+
			"Answer from your own knowledge, say clearly that current figures could not be verified, "+
			"and recommend contacting our team directly on %s for the latest prices and availability.",
			query, contactChannel)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Live search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Title)
		if snippet := truncate(r.Snippet, maxSnippetChars); snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", snippet)
		}
		fmt.Fprintf(&sb, "   Source: %s\n\n", r.URL)
	}
	sb.WriteString("Cite the sources you rely on. Prices change often, so present figures as indicative.")
	return sb.String()
}

// truncate collapses whitespace in s and cuts it to at most n characters,
// marking a cut with "...".
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}
