package questions

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{(dyn:)?([A-Za-z_][A-Za-z0-9_]*)\}`)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenPlaceholder
)

// token is one piece of a scanned pattern: literal text or a placeholder.
type token struct {
	kind    tokenKind
	text    string // raw source text, including braces for placeholders
	name    string
	dynamic bool
}

// tokenize splits pattern into text and placeholder tokens in a single
// left-to-right pass. Adjacent text is never split.
func tokenize(pattern string) []token {
	var tokens []token
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(pattern, -1) {
		if m[0] > last {
			tokens = append(tokens, token{kind: tokenText, text: pattern[last:m[0]]})
		}
		tokens = append(tokens, token{
			kind:    tokenPlaceholder,
			text:    pattern[m[0]:m[1]],
			name:    pattern[m[4]:m[5]],
			dynamic: m[2] >= 0,
		})
		last = m[1]
	}
	if last < len(pattern) {
		tokens = append(tokens, token{kind: tokenText, text: pattern[last:]})
	}
	return tokens
}

// placeholderNames returns the distinct placeholder names of pattern in
// order of first appearance.
func placeholderNames(pattern string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, tok := range tokenize(pattern) {
		if tok.kind != tokenPlaceholder || seen[tok.name] {
			continue
		}
		seen[tok.name] = true
		names = append(names, tok.name)
	}
	return names
}

func isReserved(name string) bool {
	switch name {
	case PlaceholderConstruct, PlaceholderBase, PlaceholderPart, PlaceholderInit, PlaceholderCont:
		return true
	}
	return false
}
