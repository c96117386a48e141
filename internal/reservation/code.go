package reservation

import (
	"context"
	"crypto/rand"
	"fmt"

	"parking-status-backend/internal/store"
)

// codeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode draws n characters uniformly from codeAlphabet.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length %d", n)
	}
	// Bytes at or above limit would bias the modulo and are discarded.
	limit := 256 - 256%len(codeAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// uniqueCode generates codes until one is unused or attempts run out.
func uniqueCode(ctx context.Context, rs store.ReservationStore, length, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		code, err := GenerateCode(length)
		if err != nil {
			return "", err
		}
		taken, err := rs.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unique code after %d attempts", attempts)
}
