package rules

import (
	"regexp"
)

// Rule is a single "could-have" amenity matcher. Pattern is a regular
// expression evaluated against a listing's lower-cased corpus.
type Rule struct {
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern occurs in the corpus.
// An uncompiled rule never matches.
func (r Rule) Matches(corpus string) bool {
	if r.re == nil {
		return false
	}
	return r.re.MatchString(corpus)
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}
