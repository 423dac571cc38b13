package domain

// MergeTokens concatenates token lists and removes duplicates by address.
// When an address appears more than once, the first entry that carries a
// balance wins; otherwise the first occurrence is kept. Output order follows
// first appearance of each address.
func MergeTokens(lists ...[]Token) []Token {
	index := make(map[string]int)
	var merged []Token

	for _, list := range lists {
		for _, t := range list {
			if t.Address == "" {
				continue
			}
			i, seen := index[t.Address]
			if !seen {
				index[t.Address] = len(merged)
				merged = append(merged, t)
				continue
			}
			if merged[i].Balance == nil && t.Balance != nil {
				merged[i] = t
			}
		}
	}

	return merged
}

// HoldingsOf returns the tokens that carry a positive balance.
func HoldingsOf(tokens []Token) []Token {
	var held []Token
	for _, t := range tokens {
		if t.HasBalance() {
			held = append(held, t)
		}
	}
	return held
}
