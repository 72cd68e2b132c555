package classifier

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Vocabulary holds the words and markers used to route candidates.
type Vocabulary struct {
	RestTerms        []string `yaml:"rest_terms"`
	RestTags         []string `yaml:"rest_tags"`
	ExclusionMarkers []string `yaml:"exclusion_markers"`
	ExclusionTags    []string `yaml:"exclusion_tags"`
}

// DefaultVocabulary returns the built-in routing vocabulary
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		RestTerms: []string{
			"rest",
			"rest period",
			"break",
			"breaks",
			"meal break",
			"tea break",
			"lunch break",
		},
		RestTags: []string{"rest", "break"},
		ExclusionMarkers: []string{
			"as per charter party",
			"as per charterparty",
			"as per cp",
			"as per c/p",
			"(cp)",
		},
		ExclusionTags: []string{"cp", "charter_party", "excluded"},
	}
}

// LoadVocabulary reads a YAML vocabulary file. Sections left empty in the
// file keep their built-in defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	if path == "" {
		return vocab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, fmt.Errorf("reading vocabulary file: %w", err)
	}

	var loaded Vocabulary
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return vocab, fmt.Errorf("parsing vocabulary file %s: %w", path, err)
	}

	if len(loaded.RestTerms) > 0 {
		vocab.RestTerms = loaded.RestTerms
	}
	if len(loaded.RestTags) > 0 {
		vocab.RestTags = loaded.RestTags
	}
	if len(loaded.ExclusionMarkers) > 0 {
		vocab.ExclusionMarkers = loaded.ExclusionMarkers
	}
	if len(loaded.ExclusionTags) > 0 {
		vocab.ExclusionTags = loaded.ExclusionTags
	}
	return vocab, nil
}

// phrasePattern matches any of the phrases as whole words, case-insensitively.
// Returns nil for an empty list.
func phrasePattern(phrases []string) *regexp.Regexp {
	var alts []string
	for _, p := range phrases {
		p = strings.Join(strings.Fields(strings.ToLower(p)), " ")
		if p == "" {
			continue
		}
		quoted := strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`)
		// Word boundaries only where the phrase itself begins or ends in a word character.
		if isWordRune(p[0]) {
			quoted = `(?:^|[^\pL\pN])` + quoted
		}
		if isWordRune(p[len(p)-1]) {
			quoted += `(?:[^\pL\pN]|$)`
		}
		alts = append(alts, quoted)
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isWordRune(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[normalizeTag(t)] = true
	}
	return set
}

func normalizeTag(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(t)
}
