package cache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const swapSuffix = ".swap"

// EncodeSwapName maps a cache key to a file name that is safe on every
// filesystem. The mapping is reversible.
func EncodeSwapName(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + swapSuffix
}

// DecodeSwapName returns the key a swap file was written for.
func DecodeSwapName(name string) (string, error) {
	enc, ok := strings.CutSuffix(name, swapSuffix)
	if !ok {
		return "", fmt.Errorf("not a swap file: %s", name)
	}
	key, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("invalid swap file name %s: %w", name, err)
	}
	return string(key), nil
}
