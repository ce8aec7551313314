package ring

import (
	"fmt"
	"sort"
	"strconv"
)

// Token is a position on the 64-bit circular identifier space.
type Token uint64

// String returns the decimal form used in gossip application state.
func (t Token) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ParseToken parses the decimal form produced by Token.String.
func ParseToken(s string) (Token, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token %q: %w", s, err)
	}
	return Token(v), nil
}

// SortTokens sorts tokens ascending in place.
func SortTokens(tokens []Token) {
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
}

// searchTokens returns the index of the first token >= t in sorted tokens.
// The result equals len(tokens) when t is greater than every token.
func searchTokens(tokens []Token, t Token) int {
	return sort.Search(len(tokens), func(i int) bool { return tokens[i] >= t })
}
