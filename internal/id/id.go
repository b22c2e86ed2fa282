// Package id generates opaque, collision-resistant engine identifiers.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// New returns a fresh 128-bit random token rendered as unpadded lowercase
// base32 (a-z, 2-7): URL-safe, and also valid inside Kubernetes object names.
func New() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}
