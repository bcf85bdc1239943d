package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrSSRFRisk         = errors.New("URL poses SSRF risk")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string
	// BlockPrivate rejects hosts that are or resolve to loopback, link-local
	// or private addresses.
	BlockPrivate bool
	MaxLength    int // 0 = no limit
}

// RelayURLConstraints accepts websocket relays, including local ones.
var RelayURLConstraints = URLConstraints{
	AllowedSchemes: []string{"wss", "ws"},
	MaxLength:      2048,
}

// PublicRelayURLConstraints is RelayURLConstraints with private hosts blocked.
var PublicRelayURLConstraints = URLConstraints{
	AllowedSchemes: []string{"wss", "ws"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// URL validates urlStr against constraints and returns it trimmed.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}
	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if len(constraints.AllowedSchemes) > 0 && !slices.Contains(constraints.AllowedSchemes, scheme) {
		return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, u.Scheme, constraints.AllowedSchemes)
	}
	hostname := u.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	if constraints.BlockPrivate {
		if err := checkSSRF(hostname); err != nil {
			return "", err
		}
	}
	return urlStr, nil
}

// RelayURL validates a relay websocket URL.
func RelayURL(s string) (string, error) {
	return URL(s, RelayURLConstraints)
}

func checkSSRF(hostname string) error {
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: localhost not allowed", ErrSSRFRisk)
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: private IP address %s", ErrSSRFRisk, ip)
		}
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hosts fail later at dial time.
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private IP address %s", ErrSSRFRisk, hostname, ip)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
