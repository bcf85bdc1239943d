package location

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// TagMap is the decoded form of a tag array: tag name to values.
//
// Repeated "t" tags accumulate into one list. For every other name the last
// occurrence wins and keeps all of its values, so ["g","u4pr"] becomes
// {"g": ["u4pr"]} and ["foo","a","b"] becomes {"foo": ["a","b"]}.
type TagMap map[string][]string

// DecodeTags builds a TagMap from a tag array. Tags without a name are skipped.
func DecodeTags(tags nostr.Tags) TagMap {
	m := make(TagMap, len(tags))
	for _, tag := range tags {
		if len(tag) == 0 || tag[0] == "" {
			continue
		}
		values := append([]string(nil), tag[1:]...)
		if tag[0] == TagTopic {
			m[TagTopic] = append(m[TagTopic], values...)
			continue
		}
		m[tag[0]] = values
	}
	return m
}

// Get returns the first value for name, or "".
func (m TagMap) Get(name string) string {
	if v := m[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// All returns every value for name.
func (m TagMap) All(name string) []string {
	return m[name]
}

// Expiry returns the expiry tag as unix seconds, falling back to the NIP-40
// expiration tag. Zero when absent or malformed.
func (m TagMap) Expiry() int64 {
	for _, name := range []string{TagExpiry, TagExpiration} {
		if raw := m.Get(name); raw != "" {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return v
			}
		}
	}
	return 0
}

// Clone returns a deep copy. Clone of nil is nil.
func (m TagMap) Clone() TagMap {
	if m == nil {
		return nil
	}
	c := make(TagMap, len(m))
	for k, v := range m {
		c[k] = append([]string(nil), v...)
	}
	return c
}

// EncodePayload serializes the inner tags of a private event as a compact
// JSON array of arrays, e.g. [["g","u4pruydq"],["accuracy","10"]].
func EncodePayload(tags nostr.Tags) (string, error) {
	raw := make([][]string, 0, len(tags))
	for _, t := range tags {
		raw = append(raw, []string(t))
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(b), nil
}

// DecodePayload parses a decrypted private payload into a TagMap.
// The payload must contain a non-empty "g" tag.
func DecodePayload(plaintext string) (TagMap, error) {
	var raw [][]string
	if err := json.Unmarshal([]byte(plaintext), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	tags := make(nostr.Tags, 0, len(raw))
	for _, t := range raw {
		tags = append(tags, nostr.Tag(t))
	}
	m := DecodeTags(tags)
	if m.Get(TagGeohash) == "" {
		return nil, fmt.Errorf("%w: missing geohash tag", ErrInvalidPayload)
	}
	return m, nil
}
