package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default is the built-in amenity catalog used when no rules directory is
// configured or it contains no files.
func Default() []Rule {
	rules := []Rule{
		{Label: "Gym", Pattern: `gym|fitness.{0,10}center|exercise`},
		{Label: "Pool", Pattern: `pool|swimming|jacuzzi|hot.{0,10}tub`},
		{Label: "Spa", Pattern: `spa|sauna|steam.{0,10}room`},
		{Label: "Dishwasher", Pattern: `dishwasher`},
		{Label: "Dryer", Pattern: `dryer`},
		{Label: "Glazed Windows", Pattern: `double.{0,10}glazed|glazed.{0,10}window|soundproof`},
		{Label: "Electric Stove", Pattern: `(electric|induction).{0,10}(stove|cook\s?top)`},
	}
	for i := range rules {
		rules[i].re = regexp.MustCompile(rules[i].Pattern)
	}
	return rules
}

// Loader handles loading and validation of preference rule catalogs
type Loader struct {
	rulesDir string
}

func NewLoader(rulesDir string) *Loader {
	return &Loader{rulesDir: rulesDir}
}

// LoadAll loads every YAML catalog file from the rules directory, in file
// name order. If the directory is missing or empty the built-in catalog is
// returned instead.
func (l *Loader) LoadAll() ([]Rule, error) {
	if _, err := os.Stat(l.rulesDir); os.IsNotExist(err) {
		return Default(), nil
	}

	files, err := filepath.Glob(filepath.Join(l.rulesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(l.rulesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	if len(files) == 0 {
		return Default(), nil
	}

	var rules []Rule
	for _, file := range files {
		loaded, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}
		rules = append(rules, loaded...)
		slog.Debug("Loaded rule catalog", "file", file, "rules", len(loaded))
	}

	return rules, nil
}

func (l *Loader) loadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i := range catalog.Rules {
		rule := &catalog.Rules[i]
		if strings.TrimSpace(rule.Label) == "" {
			return nil, fmt.Errorf("rule %d: label is required", i)
		}
		re, err := Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Label, err)
		}
		rule.re = re
	}

	return catalog.Rules, nil
}

// Validate checks that a pattern is a well-formed rule expression. Pattern
// strings are validated at storage-write time so a corrupt pattern can never
// reach the classifier.
func Validate(pattern string) error {
	_, err := Compile(pattern)
	return err
}

// Compile builds the matcher for a rule pattern. Patterns are matched
// against an already lower-cased corpus, so they are compiled as written.
func Compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// FromPatterns builds unlabeled rules from free-text pattern strings,
// dropping entries that fail to compile. Used for the user's comma-split
// "other preferences" input where invalid entries must not break a pass.
func FromPatterns(patterns []string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.ToLower(pattern))
		if pattern == "" {
			continue
		}
		re, err := Compile(pattern)
		if err != nil {
			slog.Warn("Skipping invalid preference pattern", "pattern", pattern, "error", err)
			continue
		}
		rules = append(rules, Rule{Label: pattern, Pattern: pattern, re: re})
	}
	return rules
}
