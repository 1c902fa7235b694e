package password

import (
	"crypto/rand"
	"fmt"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Random returns an n-character alphanumeric string drawn uniformly from crypto/rand.
func Random(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("password: invalid random length %d", n)
	}

	// 248 is the largest multiple of 62 below 256; higher bytes are rejected to avoid bias.
	const limit = 256 - 256%len(alphanumeric)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("password: random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
