package listing

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/mkorzh/listing-sieve/app/rules"
	"github.com/mkorzh/listing-sieve/app/store"
)

// First monetary-looking number appearing after the word "strata" on the
// same line: thousands separators allowed, at most two decimal places.
var strataPattern = regexp.MustCompile(`strata.*?(\d+(?:,\d{3})*(?:\.\d{1,2})?)`)

var foldCaser = cases.Fold()

// Classifier computes exclusion and preference decisions from a listing
// record and a settings snapshot. All methods are pure.
type Classifier struct {
	// Strata ceilings below this value activate fee-based exclusion
	// ("strict strata" mode).
	strictStrataBelow int
}

func NewClassifier(strictStrataBelow int) *Classifier {
	return &Classifier{strictStrataBelow: strictStrataBelow}
}

// Result is the outcome of classifying one listing against one settings
// snapshot. It drives only transient surface state and is never persisted.
type Result struct {
	Exclude         bool
	PreferenceRatio float64
}

// Run classifies a record against a settings snapshot.
func (c *Classifier) Run(settings store.Settings, record *Record) Result {
	corpus := Corpus(record)
	return Result{
		Exclude:         c.ShouldExclude(settings, corpus),
		PreferenceRatio: c.Preference(settings, corpus),
	}
}

// Corpus builds the case-folded concatenation of a record's title,
// features, and description used for all text matching.
func Corpus(record *Record) string {
	return foldCaser.String(record.Title + "\n" + record.Features + "\n" + record.Description)
}

// ShouldExclude reports whether the corpus triggers any exclusion cause:
// a configured keyword, studio content while studios are filtered out, or
// a parsed strata fee above the ceiling in strict strata mode.
func (c *Classifier) ShouldExclude(settings store.Settings, corpus string) bool {
	keywords := settings.ExcludeKeywords
	if !settings.IncludeStudio {
		keywords = append(append([]string(nil), keywords...), "studio")
	}

	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(corpus, keyword) {
			return true
		}
	}

	if settings.StrataCeiling < c.strictStrataBelow {
		if fee, ok := ParseStrataFee(corpus); ok && fee > float64(settings.StrataCeiling) {
			return true
		}
	}

	return false
}

// ParseStrataFee extracts the strata fee value from a corpus. Absence of a
// match is not an error; strata is simply not a rejection cause then.
func ParseStrataFee(corpus string) (float64, bool) {
	match := strataPattern.FindStringSubmatch(corpus)
	if match == nil {
		return 0, false
	}
	fee, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return fee, true
}

// Preference returns the fraction of configured "could-have" rules matched
// by the corpus. Empty rules count toward neither the numerator nor the
// denominator; with no countable rules the ratio is 0, not NaN.
func (c *Classifier) Preference(settings store.Settings, corpus string) float64 {
	patterns := make([]string, 0, len(settings.Preferences)+len(settings.OtherPreferences))
	patterns = append(patterns, settings.Preferences...)
	patterns = append(patterns, settings.OtherPreferences...)

	ruleSet := rules.FromPatterns(patterns)
	if len(ruleSet) == 0 {
		return 0
	}

	matched := 0
	for _, rule := range ruleSet {
		if rule.Matches(corpus) {
			matched++
		}
	}

	return float64(matched) / float64(len(ruleSet))
}
