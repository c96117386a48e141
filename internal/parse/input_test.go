package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmail(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  string
		expectErr bool
	}{
		{name: "Plain", raw: "a@x.com", expected: "a@x.com"},
		{name: "Trim and lower", raw: "  Ana.Lopez@Example.COM ", expected: "ana.lopez@example.com"},
		{name: "Empty", raw: "   ", expectErr: true},
		{name: "No domain dot", raw: "a@localhost", expectErr: true},
		{name: "Inner space", raw: "a b@x.com", expectErr: true},
		{name: "No at", raw: "ax.com", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Email(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, got)
			}
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "Ana", Name("  Ana ", 60))
	assert.Equal(t, "Añoñ", Name("Añoñez", 4))
	assert.Equal(t, "", Name("", 60))
}

func TestWindow(t *testing.T) {
	from, to, err := Window("2026-03-01T10:00:00-06:00", "2026-03-01T17:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.UTC, from.Location())
	assert.Equal(t, time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC), to)

	_, _, err = Window("yesterday", "2026-03-01T17:00:00Z")
	assert.ErrorContains(t, err, "from")

	_, _, err = Window("2026-03-01T17:00:00Z", "")
	assert.ErrorContains(t, err, "to")
}

func TestID(t *testing.T) {
	id, err := ID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"0", "-1", "abc", ""} {
		_, err := ID(raw)
		assert.Error(t, err, raw)
	}
}

func TestDaysAndLimit(t *testing.T) {
	testCases := []struct {
		name     string
		fn       func(string, int) int
		raw      string
		def      int
		expected int
	}{
		{name: "Days default", fn: Days, raw: "", def: 30, expected: 30},
		{name: "Days parsed", fn: Days, raw: "7", def: 30, expected: 7},
		{name: "Days zero", fn: Days, raw: "0", def: 30, expected: 30},
		{name: "Days floor", fn: Days, raw: "", def: 0, expected: 1},
		{name: "Days ceiling", fn: Days, raw: "9999", def: 30, expected: 365},
		{name: "Days junk", fn: Days, raw: "week", def: 60, expected: 60},
		{name: "Limit default", fn: Limit, raw: "", def: 10, expected: 10},
		{name: "Limit ceiling", fn: Limit, raw: "500", def: 10, expected: 100},
		{name: "Limit negative", fn: Limit, raw: "-3", def: 10, expected: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.fn(tc.raw, tc.def))
		})
	}
}
