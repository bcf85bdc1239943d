package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "Family", "Family", nil},
		{"trimmed", "  Hiking club ", "Hiking club", nil},
		{"unicode counts runes", strings.Repeat("é", MaxNameLength), strings.Repeat("é", MaxNameLength), nil},
		{"empty", "   ", "", ErrEmpty},
		{"too long", strings.Repeat("a", MaxNameLength+1), "", ErrStringTooLong},
		{"newline", "home\nwork", "", ErrInvalidCharacters},
		{"nul", "home\x00", "", ErrInvalidCharacters},
		{"invalid utf8", "\xff\xfe", "", ErrInvalidCharacters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Name(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Name() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString_AllowEmpty(t *testing.T) {
	got, err := String("  ", StringConstraints{AllowEmpty: true, TrimSpace: true})
	if err != nil || got != "" {
		t.Errorf("String() = %q, %v", got, err)
	}
	if _, err := String("  ", StringConstraints{AllowEmpty: true}); err != nil {
		t.Errorf("untrimmed whitespace should pass: %v", err)
	}
}
