// Package tokens approximates token counts for budgeting and stats.
// Exact tokenization belongs to the model provider; these estimates
// only need to be in the right neighborhood.
package tokens

// Estimate approximates the token count of text.
// Rough estimate: 1 token ≈ 4 characters for English.
func Estimate(text string) int {
	return len(text) / 4
}

// EstimateAll sums Estimate over texts
func EstimateAll(texts ...string) int {
	total := 0
	for _, text := range texts {
		total += Estimate(text)
	}
	return total
}
