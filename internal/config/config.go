// Package config loads the spotstr daemon configuration.
// It uses koanf to merge an optional YAML file with environment variables;
// environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/validate"
)

// GroupConfig is a group identity loaded at startup.
type GroupConfig struct {
	Name string `koanf:"name"`
	Nsec string `koanf:"nsec"`
}

// ContactConfig is an address book entry loaded at startup.
type ContactConfig struct {
	Name   string `koanf:"name"`
	Pubkey string `koanf:"pubkey"`
}

// ShareConfig configures the optional continuous sharing session.
type ShareConfig struct {
	Enabled bool `koanf:"enabled"`
	// Sender is the nsec or hex secret used to sign and encrypt.
	Sender string `koanf:"sender"`
	// Receiver is an npub or hex pubkey, or contact:<id> or group:<id>
	// naming a configured entry.
	Receiver string `koanf:"receiver"`
	// Expiry is a duration string understood by location.ParseExpiry.
	Expiry string `koanf:"expiry"`
	Name   string `koanf:"name"`
	// Source is SourceSimulator or SourceManual.
	Source string `koanf:"source"`
}

// TracingConfig mirrors tracing.Config.
type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Exporter   string  `koanf:"exporter"`
	Endpoint   string  `koanf:"endpoint"`
	SampleRate float64 `koanf:"sample_rate"`
	Insecure   bool    `koanf:"insecure"`
}

// Config holds all configuration values for the daemon.
type Config struct {
	Env      string `koanf:"env"`
	HTTPAddr string `koanf:"http_addr"`

	LocationRelays []string `koanf:"location_relays"`
	ProfileRelays  []string `koanf:"profile_relays"`

	GeohashPrecision  int           `koanf:"geohash_precision"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	DecryptDebounce   time.Duration `koanf:"decrypt_debounce"`
	AckTimeout        time.Duration `koanf:"ack_timeout"`
	ReplaceOnlyNewer  bool          `koanf:"replace_only_newer"`

	// Accounts are nsec/hex secrets, or npubs for watch-only accounts.
	Accounts []string      `koanf:"accounts"`
	Groups   []GroupConfig   `koanf:"groups"`
	Contacts []ContactConfig `koanf:"contacts"`
	Share    ShareConfig     `koanf:"share"`

	// Optional storage backends.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	Tracing TracingConfig `koanf:"tracing"`
}

// Position sources for the sharing session.
const (
	SourceSimulator = "simulator"
	SourceManual    = "manual"
)

// Default values.
const (
	DefaultEnv               = "development"
	DefaultHTTPAddr          = ":8080"
	DefaultGeohashPrecision  = 8
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDecryptDebounce   = 100 * time.Millisecond
	DefaultAckTimeout        = 5 * time.Second
	DefaultReplaceOnlyNewer  = true
	DefaultShareExpiry       = "1min"
	DefaultShareName         = "real-time"
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
)

// DefaultLocationRelays are used when none are configured.
var DefaultLocationRelays = []string{
	"wss://precision.bilberry-tetra.ts.net/relay",
	"wss://relay.damus.io",
}

// DefaultProfileRelays are queried for kind-0 metadata.
var DefaultProfileRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// Configuration validation errors.
var (
	ErrNoLocationRelays   = errors.New("at least one location relay is required")
	ErrInvalidRelayURL    = errors.New("relay URL must use ws:// or wss://")
	ErrInvalidPrecision   = errors.New("SPOTSTR_GEOHASH_PRECISION must be between 1 and 12")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrInvalidInt         = errors.New("must be a valid integer")
	ErrInvalidBool        = errors.New("must be a boolean")
	ErrInvalidAccount     = errors.New("invalid account key")
	ErrInvalidGroup       = errors.New("invalid group")
	ErrInvalidContact     = errors.New("invalid contact")
	ErrMissingShareSender = errors.New("share.sender is required when sharing is enabled")
	ErrMissingShareRecv   = errors.New("share.receiver is required when sharing is enabled")
	ErrInvalidShareSource = errors.New("share.source must be simulator or manual")
	ErrInvalidSampleRate  = errors.New("tracing.sample_rate must be between 0 and 1")
)

// Load reads configuration from an optional YAML file and SPOTSTR_*
// environment variables. It returns the config and every validation error
// found; the config is nil only when the file cannot be read.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	var loadErrs []error
	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	cfg := &Config{
		Env:            getEnvOrDefaultMulti([]string{"SPOTSTR_ENV", "ENV"}, k.String("env"), DefaultEnv),
		HTTPAddr:       getEnvOrDefault("SPOTSTR_HTTP_ADDR", k.String("http_addr"), DefaultHTTPAddr),
		LocationRelays: getEnvListOrDefault("SPOTSTR_LOCATION_RELAYS", k.Strings("location_relays"), DefaultLocationRelays),
		ProfileRelays:  getEnvListOrDefault("SPOTSTR_PROFILE_RELAYS", k.Strings("profile_relays"), DefaultProfileRelays),
		Accounts:       getEnvListOrDefault("SPOTSTR_ACCOUNTS", k.Strings("accounts"), nil),
		DatabaseURL:    getEnvOrKoanfMulti([]string{"SPOTSTR_DATABASE_URL", "DATABASE_URL"}, k, "database_url"),
		RedisURL:       getEnvOrKoanfMulti([]string{"SPOTSTR_REDIS_URL", "REDIS_URL"}, k, "redis_url"),
	}

	var err error
	cfg.GeohashPrecision, err = getEnvIntOrDefault("SPOTSTR_GEOHASH_PRECISION", k.Int("geohash_precision"), DefaultGeohashPrecision)
	collect(err)
	cfg.HeartbeatInterval, err = getEnvDurationOrDefault("SPOTSTR_HEARTBEAT_INTERVAL", k, "heartbeat_interval", DefaultHeartbeatInterval)
	collect(err)
	cfg.DecryptDebounce, err = getEnvDurationOrDefault("SPOTSTR_DECRYPT_DEBOUNCE", k, "decrypt_debounce", DefaultDecryptDebounce)
	collect(err)
	cfg.AckTimeout, err = getEnvDurationOrDefault("SPOTSTR_ACK_TIMEOUT", k, "ack_timeout", DefaultAckTimeout)
	collect(err)
	cfg.ReplaceOnlyNewer, err = getEnvBoolOrDefault("SPOTSTR_REPLACE_ONLY_NEWER", k, "replace_only_newer", DefaultReplaceOnlyNewer)
	collect(err)

	if k.Exists("groups") {
		if err := k.Unmarshal("groups", &cfg.Groups); err != nil {
			collect(fmt.Errorf("%w: %v", ErrInvalidGroup, err))
		}
	}
	groups, err := parseGroupsEnv(os.Getenv("SPOTSTR_GROUPS"))
	collect(err)
	cfg.Groups = append(cfg.Groups, groups...)

	if k.Exists("contacts") {
		if err := k.Unmarshal("contacts", &cfg.Contacts); err != nil {
			collect(fmt.Errorf("%w: %v", ErrInvalidContact, err))
		}
	}
	contacts, err := parseContactsEnv(os.Getenv("SPOTSTR_CONTACTS"))
	collect(err)
	cfg.Contacts = append(cfg.Contacts, contacts...)

	cfg.Share = ShareConfig{
		Sender:   getEnvOrKoanf("SPOTSTR_SHARE_SENDER", k, "share.sender"),
		Receiver: getEnvOrKoanf("SPOTSTR_SHARE_RECEIVER", k, "share.receiver"),
		Expiry:   getEnvOrDefault("SPOTSTR_SHARE_EXPIRY", k.String("share.expiry"), DefaultShareExpiry),
		Name:     getEnvOrDefault("SPOTSTR_SHARE_NAME", k.String("share.name"), DefaultShareName),
		Source:   getEnvOrDefault("SPOTSTR_SHARE_SOURCE", k.String("share.source"), SourceSimulator),
	}
	cfg.Share.Enabled, err = getEnvBoolOrDefault("SPOTSTR_SHARE_ENABLED", k, "share.enabled", false)
	collect(err)

	cfg.Tracing = TracingConfig{
		Exporter: getEnvOrDefault("SPOTSTR_TRACING_EXPORTER", k.String("tracing.exporter"), DefaultTracingExporter),
		Endpoint: getEnvOrKoanf("SPOTSTR_TRACING_ENDPOINT", k, "tracing.endpoint"),
	}
	cfg.Tracing.Enabled, err = getEnvBoolOrDefault("SPOTSTR_TRACING_ENABLED", k, "tracing.enabled", false)
	collect(err)
	cfg.Tracing.Insecure, err = getEnvBoolOrDefault("SPOTSTR_TRACING_INSECURE", k, "tracing.insecure", false)
	collect(err)
	cfg.Tracing.SampleRate, err = getEnvFloatOrDefault("SPOTSTR_TRACING_SAMPLE_RATE", k, "tracing.sample_rate", DefaultTracingSampleRate)
	collect(err)

	return cfg, append(loadErrs, cfg.Validate()...)
}

// ShareExpiry returns the parsed share expiry. Call after Validate succeeds.
func (c *Config) ShareExpiry() time.Duration {
	d, err := location.ParseExpiry(c.Share.Expiry)
	if err != nil {
		return time.Minute
	}
	return d
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if len(c.LocationRelays) == 0 {
		errs = append(errs, ErrNoLocationRelays)
	}
	for _, u := range append(append([]string(nil), c.LocationRelays...), c.ProfileRelays...) {
		if _, err := validate.RelayURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidRelayURL, u, err))
		}
	}
	if c.GeohashPrecision < 1 || c.GeohashPrecision > 12 {
		errs = append(errs, ErrInvalidPrecision)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"heartbeat_interval", c.HeartbeatInterval},
		{"decrypt_debounce", c.DecryptDebounce},
		{"ack_timeout", c.AckTimeout},
	}
	for _, v := range durations {
		if v.d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w", v.name, ErrInvalidDuration))
		}
	}

	for i, acct := range c.Accounts {
		if err := validateAccount(acct); err != nil {
			errs = append(errs, fmt.Errorf("%w %d: %v", ErrInvalidAccount, i+1, err))
		}
	}
	for i, g := range c.Groups {
		if strings.TrimSpace(g.Name) == "" {
			errs = append(errs, fmt.Errorf("%w %d: name is required", ErrInvalidGroup, i+1))
		}
		if _, err := signer.ParseSecretKey(g.Nsec); err != nil {
			errs = append(errs, fmt.Errorf("%w %d: %v", ErrInvalidGroup, i+1, err))
		}
	}
	for i, ct := range c.Contacts {
		if _, err := signer.ParsePublicKey(ct.Pubkey); err != nil {
			errs = append(errs, fmt.Errorf("%w %d: %v", ErrInvalidContact, i+1, err))
		}
	}

	if c.Share.Enabled {
		if c.Share.Sender == "" {
			errs = append(errs, ErrMissingShareSender)
		} else if _, err := signer.ParseSecretKey(c.Share.Sender); err != nil {
			errs = append(errs, fmt.Errorf("share.sender: %w", err))
		}
		if c.Share.Receiver == "" {
			errs = append(errs, ErrMissingShareRecv)
		} else if err := c.validateShareReceiver(); err != nil {
			errs = append(errs, fmt.Errorf("share.receiver: %w", err))
		}
		if _, err := location.ParseExpiry(c.Share.Expiry); err != nil {
			errs = append(errs, fmt.Errorf("share.expiry: %w", err))
		}
		if c.Share.Source != SourceSimulator && c.Share.Source != SourceManual {
			errs = append(errs, ErrInvalidShareSource)
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	return errs
}

func validateAccount(s string) error {
	if strings.HasPrefix(strings.TrimSpace(s), "npub1") {
		_, err := signer.ParsePublicKey(s)
		return err
	}
	_, err := signer.ParseSecretKey(s)
	return err
}

// parseGroupsEnv parses "name=nsec,name2=nsec2".
func parseGroupsEnv(val string) ([]GroupConfig, error) {
	if val == "" {
		return nil, nil
	}
	var out []GroupConfig
	for _, item := range splitList(val) {
		name, nsec, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("SPOTSTR_GROUPS: %w: expected name=nsec", ErrInvalidGroup)
		}
		out = append(out, GroupConfig{Name: strings.TrimSpace(name), Nsec: strings.TrimSpace(nsec)})
	}
	return out, nil
}

// parseContactsEnv parses "name=npub,name2=hex"; the name may be empty.
func parseContactsEnv(val string) ([]ContactConfig, error) {
	if val == "" {
		return nil, nil
	}
	var out []ContactConfig
	for _, item := range splitList(val) {
		name, pubkey, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("SPOTSTR_CONTACTS: %w: expected name=npub", ErrInvalidContact)
		}
		out = append(out, ContactConfig{Name: strings.TrimSpace(name), Pubkey: strings.TrimSpace(pubkey)})
	}
	return out, nil
}

// validateShareReceiver accepts a key, or a contact: or group: reference to
// an entry configured in the same file.
func (c *Config) validateShareReceiver() error {
	ref := strings.TrimSpace(c.Share.Receiver)
	if id, ok := strings.CutPrefix(ref, "contact:"); ok {
		want, err := signer.ParsePublicKey(id)
		if err != nil {
			return err
		}
		for _, ct := range c.Contacts {
			if pk, err := signer.ParsePublicKey(ct.Pubkey); err == nil && pk == want {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is not a configured contact", ErrInvalidContact, id)
	}
	if id, ok := strings.CutPrefix(ref, "group:"); ok {
		want, err := signer.ParsePublicKey(id)
		if err != nil {
			return err
		}
		for _, g := range c.Groups {
			if key, err := signer.NewLocalKey(g.Nsec); err == nil && key.PublicKey() == want {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is not a configured group", ErrInvalidGroup, id)
	}
	_, err := signer.ParsePublicKey(ref)
	return err
}

// LogSummary returns a summary of the configuration suitable for logging.
// Keys are masked.
func (c *Config) LogSummary() map[string]string {
	accounts := make([]string, len(c.Accounts))
	for i, a := range c.Accounts {
		accounts[i] = maskKey(a)
	}
	groups := make([]string, len(c.Groups))
	for i, g := range c.Groups {
		groups[i] = g.Name + "=" + maskKey(g.Nsec)
	}
	return map[string]string{
		"env":                 c.Env,
		"http_addr":           c.HTTPAddr,
		"location_relays":     strings.Join(c.LocationRelays, ","),
		"profile_relays":      strings.Join(c.ProfileRelays, ","),
		"geohash_precision":   strconv.Itoa(c.GeohashPrecision),
		"heartbeat_interval":  c.HeartbeatInterval.String(),
		"decrypt_debounce":    c.DecryptDebounce.String(),
		"ack_timeout":         c.AckTimeout.String(),
		"replace_only_newer":  strconv.FormatBool(c.ReplaceOnlyNewer),
		"accounts":            strings.Join(accounts, ","),
		"groups":              strings.Join(groups, ","),
		"contacts":            strconv.Itoa(len(c.Contacts)),
		"share_enabled":       strconv.FormatBool(c.Share.Enabled),
		"share_sender":        maskKey(c.Share.Sender),
		"share_receiver":      c.Share.Receiver,
		"share_expiry":        c.Share.Expiry,
		"share_source":        c.Share.Source,
		"database_url":        maskDatabaseURL(c.DatabaseURL),
		"redis_url":           maskDatabaseURL(c.RedisURL),
		"tracing_enabled":     strconv.FormatBool(c.Tracing.Enabled),
		"tracing_exporter":    c.Tracing.Exporter,
		"tracing_sample_rate": strconv.FormatFloat(c.Tracing.SampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters.
// Secrets shorter than 8 characters are fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskKey leaves public keys readable and masks everything else.
func maskKey(s string) string {
	if strings.HasPrefix(s, "npub1") {
		return s
	}
	if strings.HasPrefix(s, "nsec1") {
		return "nsec1****"
	}
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s
	}
	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}
	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
