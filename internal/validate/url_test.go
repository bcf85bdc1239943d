package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints URLConstraints
		want        string
		wantErr     error
	}{
		{"wss relay", "wss://relay.example/path", RelayURLConstraints, "wss://relay.example/path", nil},
		{"local ws relay allowed", " ws://127.0.0.1:7777 ", RelayURLConstraints, "ws://127.0.0.1:7777", nil},
		{"uppercase scheme", "WSS://relay.example", RelayURLConstraints, "WSS://relay.example", nil},
		{"empty", "  ", RelayURLConstraints, "", ErrEmpty},
		{"https rejected", "https://relay.example", RelayURLConstraints, "", ErrDisallowedScheme},
		{"missing host", "wss://", RelayURLConstraints, "", ErrInvalidURL},
		{"too long", "wss://" + strings.Repeat("a", 2050), RelayURLConstraints, "", ErrStringTooLong},
		{"public blocks loopback", "ws://127.0.0.1:7777", PublicRelayURLConstraints, "", ErrSSRFRisk},
		{"public blocks localhost", "ws://localhost:7777", PublicRelayURLConstraints, "", ErrSSRFRisk},
		{"public blocks private range", "wss://10.1.2.3", PublicRelayURLConstraints, "", ErrSSRFRisk},
		{"public allows public ip", "wss://1.1.1.1", PublicRelayURLConstraints, "wss://1.1.1.1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URL(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("URL() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("URL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelayURL(t *testing.T) {
	if _, err := RelayURL("wss://relay.damus.io"); err != nil {
		t.Errorf("RelayURL() error = %v", err)
	}
	if _, err := RelayURL("relay.damus.io"); !errors.Is(err, ErrDisallowedScheme) {
		t.Errorf("RelayURL(no scheme) error = %v", err)
	}
}
