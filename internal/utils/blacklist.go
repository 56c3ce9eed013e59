package utils

import (
	"strings"

	"golang.org/x/text/cases"
)

// KeywordSet matches titles against a list of terms, ignoring case
type KeywordSet struct {
	terms  []string
	folded []string
}

// NewKeywordSet builds a set from a comma separated list
func NewKeywordSet(list string) *KeywordSet {
	set := &KeywordSet{}
	for _, term := range strings.Split(list, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		set.terms = append(set.terms, term)
		set.folded = append(set.folded, fold(term))
	}
	return set
}

// Empty reports whether the set has no terms
func (k *KeywordSet) Empty() bool {
	return len(k.terms) == 0
}

// Match reports whether any term occurs in one of the texts
// Returns (matched, matchedTerm)
func (k *KeywordSet) Match(texts ...string) (bool, string) {
	for _, text := range texts {
		if text == "" {
			continue
		}
		textFolded := fold(text)
		for i, term := range k.folded {
			if strings.Contains(textFolded, term) {
				return true, k.terms[i]
			}
		}
	}
	return false, ""
}

// fold case-folds s. A Caser is not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
