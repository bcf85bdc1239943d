// Package validate checks user supplied relay URLs and display names.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrEmpty             = errors.New("string is empty")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
)

// MaxNameLength bounds group and location names.
const MaxNameLength = 100

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MaxLength  int // in runes, 0 = no maximum
	AllowEmpty bool
	TrimSpace  bool
	// NoControl rejects control characters such as newlines and NUL.
	NoControl bool
}

// String validates s and returns it, trimmed when requested.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if constraints.AllowEmpty {
			return s, nil
		}
		return "", ErrEmpty
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}
	if n := utf8.RuneCountInString(s); constraints.MaxLength > 0 && n > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, n, constraints.MaxLength)
	}
	if constraints.NoControl && strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: control characters are not allowed", ErrInvalidCharacters)
	}
	return s, nil
}

// Name validates a required display name: trimmed, at most MaxNameLength
// runes, no control characters.
func Name(name string) (string, error) {
	return String(name, StringConstraints{
		MaxLength: MaxNameLength,
		TrimSpace: true,
		NoControl: true,
	})
}
