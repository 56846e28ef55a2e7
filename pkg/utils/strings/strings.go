package strings

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// TrimPrefixAll removes repeated prefixes: TrimPrefixAll("//api", "/") == "api".
func TrimPrefixAll(s, prefix string) string {
	lp := len(prefix)

	for strings.HasPrefix(s, prefix) {
		s = s[lp:]
	}
	return s
}

// SuppySuffix appends suffix unless text already ends with it.
func SuppySuffix(text, suffix string) string {
	if strings.HasSuffix(text, suffix) {
		return text
	}
	return text + suffix
}

// RandomHex returns l random characters of [0-9a-f].
func RandomHex(l uint) (string, error) {
	if l == 0 {
		return "", nil
	}

	// one byte is two hex digits.
	buffer := make([]byte, l/2+1)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer)[:l], nil
}

// SplitIfNotEmpty is strings.Split, but an empty s has no elements.
func SplitIfNotEmpty(s string, sep string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, sep)
}
