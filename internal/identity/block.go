package identity

import (
	"math"
	"sort"

	"github.com/matsen/citegraph/internal/match"
)

// blockAll is taken when no title bound holds, so every fuzzy insert
// serializes.
const blockAll = "block:*"

// BlockKeys returns title-token lock keys such that any two titles whose
// Dice similarity is at least minDice share at least one key.
//
// Tokens are put in a fixed global order (longest first, then lexical) and
// the first |t| - ceil(j·|t|) + 1 are kept, where j = minDice/(2-minDice) is
// the matching Jaccard bound. Two sets with Jaccard >= j overlap in at least
// ceil(j·|t|) tokens, so their prefixes in a shared order must intersect.
func BlockKeys(title string, minDice float64) []string {
	tokens := match.TitleTokens(title)
	if len(tokens) == 0 {
		return nil
	}
	if minDice <= 0 {
		return []string{blockAll}
	}
	if minDice > 1 {
		minDice = 1
	}

	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	jac := minDice / (2 - minDice)
	n := len(tokens)
	prefix := n - int(math.Ceil(jac*float64(n)-1e-9)) + 1
	if prefix > n {
		prefix = n
	}

	keys := make([]string, 0, prefix)
	for _, tok := range tokens[:prefix] {
		keys = append(keys, "block:"+tok)
	}
	return keys
}
