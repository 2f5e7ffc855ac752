// Package survey reads the household survey table of agricultural population
// fractions and canonicalizes district names so every source joins on one key.
package survey

import (
	_ "embed"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var aliasesYAML []byte

var aliases = mustLoadAliases(aliasesYAML)

func mustLoadAliases(data []byte) map[string]string {
	m := make(map[string]string)
	if err := yaml.Unmarshal(data, &m); err != nil {
		panic("survey: invalid embedded aliases.yaml: " + err.Error())
	}
	return m
}

var punctuation = strings.NewReplacer(
	"-", " ",
	"_", " ",
	".", " ",
	",", " ",
	"'", "",
	"’", "",
)

// Canonical returns the join key for a district name: accents stripped,
// case folded, punctuation turned into spaces, leading numeric codes
// dropped, whitespace collapsed, and known alternate spellings mapped to one
// form. "Nuwara-Eliya", "NUWARA ELIYA" and "21 Nuwaraeliya" share a key.
func Canonical(name string) string {
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = cases.Fold().String(s)
	s = punctuation.Replace(s)

	fields := strings.Fields(s)
	for len(fields) > 1 && isDigits(fields[0]) {
		fields = fields[1:]
	}
	s = strings.Join(fields, " ")

	if a, ok := aliases[s]; ok {
		return a
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
