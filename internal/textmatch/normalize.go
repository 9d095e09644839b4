// Package textmatch turns chat text into canonical token sets and scores how
// closely a question matches a stored FAQ or knowledge-base entry.
package textmatch

import (
	"regexp"
	"strings"
)

var (
	apostrophePattern = regexp.MustCompile(`['’‘]`)
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "could": true, "may": true, "might": true, "must": true,
	"can": true, "what": true, "which": true, "who": true, "where": true,
	"when": true, "why": true, "how": true, "about": true, "tell": true,
	"me": true, "my": true, "your": true, "our": true, "their": true,
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "im": true, "you": true, "we": true,
	"they": true, "he": true, "she": true, "us": true, "them": true,
	"am": true, "if": true, "so": true, "there": true, "here": true,
	"any": true, "some": true, "just": true, "please": true, "pls": true,
	"hi": true, "hello": true, "hey": true, "whats": true, "wheres": true,
}

// IsStopWord reports whether word is dropped by Tokenize.
func IsStopWord(word string) bool {
	return stopWords[word]
}

// Normalize lowercases text, strips apostrophes in place, replaces every other
// non-word character with a space and collapses whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = apostrophePattern.ReplaceAllString(s, "")
	s = nonWordPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize normalizes text and returns its significant words in order.
// Tokens of one character and stop words are dropped. Duplicates are kept so
// term frequencies survive.
func Tokenize(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return []string{}
	}

	words := strings.Fields(normalized)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) <= 1 || stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// Expand returns tokens followed by every synonym of any token that belongs
// to a synonym group. Each added synonym appears once and only when it is not
// already among the input tokens.
func Expand(tokens []string) []string {
	expanded := make([]string, 0, len(tokens))
	expanded = append(expanded, tokens...)
	if len(tokens) == 0 {
		return expanded
	}

	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	seenGroups := make(map[int]bool)
	for _, t := range tokens {
		idx, ok := synonymIndex[t]
		if !ok || seenGroups[idx] {
			continue
		}
		seenGroups[idx] = true
		for _, syn := range synonymGroups[idx] {
			if !present[syn] {
				present[syn] = true
				expanded = append(expanded, syn)
			}
		}
	}
	return expanded
}

// TokenSet returns the distinct tokens of an expanded sequence.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
