package alerts

import (
	"regexp"
	"strconv"
)

// tokenPattern matches numeric literals before identifiers so that digit
// runs such as the "10" in "input1 >= 10" are consumed as numbers.
var tokenPattern = regexp.MustCompile(`(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?|[A-Za-z_][A-Za-z0-9_]*`)

// noiseTokens are keyword and type tokens that never name a parameter.
var noiseTokens = map[string]struct{}{
	"true":    {},
	"false":   {},
	"null":    {},
	"int":     {},
	"long":    {},
	"float":   {},
	"double":  {},
	"decimal": {},
	"string":  {},
	"bool":    {},
	"new":     {},
	"Math":    {},
}

// ExtractParameterNames returns the distinct parameter names referenced by
// expr, in first-seen order. It never fails; malformed input yields whatever
// identifier-shaped tokens it contains.
func ExtractParameterNames(expr string) []string {
	var names []string
	seen := make(map[string]struct{})

	for _, tok := range tokenPattern.FindAllString(expr, -1) {
		if _, ok := noiseTokens[tok]; ok {
			continue
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		names = append(names, tok)
	}

	return names
}
