package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MinCityLen and MaxCityLen bound a city query in runes.
const (
	MinCityLen = 1
	MaxCityLen = 100
)

// ErrInvalidCity is the parent of every city validation failure; handlers map it to 400 INVALID_CITY.
var ErrInvalidCity = errors.New("invalid city")

var (
	ErrCityEmpty        = fmt.Errorf("%w: city is required", ErrInvalidCity)
	ErrCityTooShort     = fmt.Errorf("%w: city too short", ErrInvalidCity)
	ErrCityTooLong      = fmt.Errorf("%w: city too long", ErrInvalidCity)
	ErrCityInvalidChars = fmt.Errorf("%w: city contains invalid characters", ErrInvalidCity)
)

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes; zero disables a
// bound) and restricts it to letters, digits, space, comma, hyphen, apostrophe and period.
// Returns the trimmed string.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// NormalizeCity is the key form of a validated city: lower-cased with inner whitespace collapsed.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '’', '.':
		return true
	}
	return false
}
