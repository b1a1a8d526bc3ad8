package ledger

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// keySep terminates the kind and every part of a composite key. Because each
// part is terminated, the prefix for ("ticket", "A") never matches keys under
// ("ticket", "AB").
const keySep = "\x00"

// Key is a composite store key: an entity kind followed by identifier parts.
type Key string

// CompositeKey builds the key for kind and parts. With fewer parts than the
// full key it yields a prefix suitable for Scan.
func CompositeKey(kind string, parts ...string) Key {
	var b strings.Builder
	b.WriteString(keySep)
	b.WriteString(kind)
	b.WriteString(keySep)
	for _, p := range parts {
		b.WriteString(p)
		b.WriteString(keySep)
	}
	return Key(b.String())
}

// ValidatePart reports whether s can be used as a kind or key part.
func ValidatePart(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty part", ErrInvalidKey)
	}
	if strings.Contains(s, keySep) {
		return fmt.Errorf("%w: part %q contains a NUL byte", ErrInvalidKey, s)
	}
	return nil
}

// SplitCompositeKey returns the kind and parts of k.
func SplitCompositeKey(k Key) (kind string, parts []string, err error) {
	s := string(k)
	if len(s) < 2 || !strings.HasPrefix(s, keySep) || !strings.HasSuffix(s, keySep) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	fields := strings.Split(s[1:len(s)-1], keySep)
	return fields[0], fields[1:], nil
}

// Kind returns the entity kind of k, or "" if k is malformed.
func (k Key) Kind() string {
	kind, _, err := SplitCompositeKey(k)
	if err != nil {
		return ""
	}
	return kind
}

// HasPrefix reports whether k lies under prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(string(k), string(prefix))
}

// Encode returns a URL-safe form of k for use outside the store.
func (k Key) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(k))
}

// String renders k with "/" between parts for logs.
func (k Key) String() string {
	kind, parts, err := SplitCompositeKey(k)
	if err != nil {
		return fmt.Sprintf("%q", string(k))
	}
	return kind + "/" + strings.Join(parts, "/")
}

// DecodeKey parses the output of Key.Encode.
func DecodeKey(s string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k := Key(raw)
	if _, _, err := SplitCompositeKey(k); err != nil {
		return "", err
	}
	return k, nil
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, and false when no such bound exists (prefix is all 0xff bytes).
func PrefixEnd(prefix Key) (Key, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			end := make([]byte, i+1)
			copy(end, b[:i+1])
			end[i]++
			return Key(end), true
		}
	}
	return "", false
}
