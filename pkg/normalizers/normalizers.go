// Package normalizers provides string normalization used by header matching
// and duplicate detection
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_whitespace", RemoveWhitespace)
	Register("alphanumeric", Alphanumeric)
	Register("nheader", NormalizeHeader)
	Register("nname", NormalizeName)
	Register("namount", NormalizeAmount)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeHeader canonicalizes a spreadsheet column header for alias
// matching: lowercase with every non-alphanumeric stripped, so
// "Tran_Amt 1" and "TRANAMT1" compare equal.
func NormalizeHeader(s string) string {
	return Alphanumeric(strings.ToLower(s))
}

// NormalizeName canonicalizes an entity name for duplicate grouping:
// lowercase, trimmed, with internal whitespace runs collapsed to one space.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		result.WriteRune(r)
		prevSpace = false
	}
	return result.String()
}

// NormalizeAmount strips everything from a currency string except digits,
// the decimal point, and a leading minus, so "$1,234.50" parses as 1234.50.
// The result may still fail to parse; callers treat that as a missing value.
func NormalizeAmount(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
