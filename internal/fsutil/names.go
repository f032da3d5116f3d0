package fsutil

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeTagFilename turns an opaque (key, value) pair into a filesystem-
// safe filename of the form "<escaped key>=<escaped value>". Both key
// and value may contain any byte, including the reserved characters and
// the '=' separator itself, so every byte outside a small safe set is
// percent-escaped.
func EncodeTagFilename(key, value string) string {
	return escape(key) + "=" + escape(value)
}

// DecodeTagFilename reverses EncodeTagFilename.
func DecodeTagFilename(name string) (key, value string, err error) {
	idx := strings.IndexByte(name, '=')
	if idx < 0 {
		return "", "", fmt.Errorf("tag filename %q missing '=' separator", name)
	}
	key, err = unescape(name[:idx])
	if err != nil {
		return "", "", fmt.Errorf("decode tag key: %w", err)
	}
	value, err = unescape(name[idx+1:])
	if err != nil {
		return "", "", fmt.Errorf("decode tag value: %w", err)
	}
	return key, value, nil
}

// EncodeEventTypeFilename escapes an event-type string for use as an
// index filename. Event types rarely need escaping but are treated as
// opaque strings at this layer just like tags.
func EncodeEventTypeFilename(eventType string) string {
	return escape(eventType)
}

// DecodeEventTypeFilename reverses EncodeEventTypeFilename.
func DecodeEventTypeFilename(name string) (string, error) {
	return unescape(name)
}

func isSafe(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.':
		return true
	}
	return false
}

func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func unescape(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("truncated escape sequence at offset %d", i)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid escape sequence %q: %w", s[i:i+3], err)
			}
			b.WriteByte(byte(v))
			i += 2
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}
