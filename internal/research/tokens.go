package research

import "unicode/utf8"

// EstimateTokens approximates how many context tokens a piece of drafted or
// ingested text will occupy. It is deliberately pessimistic: a branch should
// hit its window limit on the estimate before a real tokenizer would, never
// after. Only the budget tracker consumes these numbers.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Two rough ceilings, take the larger: one byte-based for prose, one
	// rune-based so short mostly-ASCII strings are not undercounted.
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes
	}
	return byBytes
}

// EstimatePaperTokens estimates the context cost of holding a paper's
// searchable fields in the branch context.
func EstimatePaperTokens(p Paper) int {
	total := EstimateTokens(p.Title) + EstimateTokens(p.Abstract) + EstimateTokens(p.Authors)
	if total == 0 {
		// Even an empty record occupies a little context once cited.
		return 8
	}
	return total
}
