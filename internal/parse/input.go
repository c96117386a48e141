package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Email trims and lower-cases raw and checks it looks like an address.
func Email(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("email is required")
	}
	if len(s) > 254 || !emailRe.MatchString(s) {
		return "", fmt.Errorf("invalid email: %q", raw)
	}
	return s, nil
}

// Name trims an optional display name and caps it at max runes.
func Name(raw string, max int) string {
	s := strings.TrimSpace(raw)
	if r := []rune(s); max > 0 && len(r) > max {
		s = string(r[:max])
	}
	return s
}

// Window parses an RFC3339 [from, to) pair and returns both in UTC.
// Ordering is left to the caller so it can report its own error kind.
func Window(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := Timestamp(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	to, err := Timestamp(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

// Timestamp parses a single RFC3339 value into UTC.
func Timestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// ID parses a positive integer identifier from a path or query value.
func ID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

// Days reads a day window, falling back to def for missing or non-positive
// input and clamping to [1, 365].
func Days(raw string, def int) int {
	return clampInt(raw, def, 1, 365)
}

// Limit reads a result limit the same way, clamped to [1, 100].
func Limit(raw string, def int) int {
	return clampInt(raw, def, 1, 100)
}

func clampInt(raw string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		n = def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
