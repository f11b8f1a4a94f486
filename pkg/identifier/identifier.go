// Package identifier sanitizes and validates SQL identifiers (savepoint
// and transaction-mark names) per spec §6: replace '-' and '.' with '_',
// truncate to the trailing maxLength characters, drop a non-alphanumeric
// leading character, then validate against [\w\d_]{1,maxLength}.
package identifier

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var validPattern = regexp.MustCompile(`^[\w\d_]+$`)

// Sanitize applies the replace/truncate/trim-leading-char pipeline and
// returns the resulting candidate identifier. It does not validate —
// call Validate (or Check, which does both) on the result.
func Sanitize(raw string, maxLength int) string {
	s := strings.ReplaceAll(raw, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")

	if len(s) > maxLength {
		s = s[len(s)-maxLength:]
	}

	if len(s) > 0 {
		r := []rune(s)
		if !unicode.IsLetter(r[0]) && !unicode.IsDigit(r[0]) {
			s = string(r[1:])
		}
	}

	return s
}

// Validate reports whether s matches the allowed identifier pattern and
// has length between 1 and maxLength inclusive.
func Validate(s string, maxLength int) error {
	if len(s) < 1 {
		return fmt.Errorf("identifier: empty after sanitization")
	}
	if len(s) > maxLength {
		return fmt.Errorf("identifier: %q exceeds max length %d", s, maxLength)
	}
	if !validPattern.MatchString(s) {
		return fmt.Errorf("identifier: %q does not match allowed pattern", s)
	}
	return nil
}

// Check sanitizes raw and validates the result, returning the usable
// identifier or an error describing why raw cannot be made into one.
func Check(raw string, maxLength int) (string, error) {
	s := Sanitize(raw, maxLength)
	if err := Validate(s, maxLength); err != nil {
		return "", err
	}
	return s, nil
}
