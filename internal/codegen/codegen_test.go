package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesDistinctURLSafeCodes(t *testing.T) {
	seen := make(map[Code]bool)
	for i := 0; i < 1000; i++ {
		c := New()
		assert.Len(t, string(c), 8)
		assert.False(t, seen[c], "duplicate code generated: %s", c)
		seen[c] = true
		for _, r := range string(c) {
			ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
				(r >= '0' && r <= '9') || r == '-' || r == '_'
			assert.True(t, ok, "code %q contains non-URL-safe rune %q", c, r)
		}
	}
}

func TestEqual(t *testing.T) {
	a := New()
	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, New()))
	assert.False(t, Equal(Code("abc"), Code("abcd")))
}

func TestEqualEmptyNeverMatches(t *testing.T) {
	assert.False(t, Equal(Empty, Empty))
	assert.False(t, Equal(Empty, New()))
	assert.False(t, Equal(New(), Empty))
}

func TestEqualConstantTimeRegardlessOfPrefix(t *testing.T) {
	// Not a timing measurement (unreliable in CI); asserts the
	// documented behavior that differing-at-any-position codes of
	// equal length are simply unequal, never panicking or short
	// circuiting in an observable way.
	cases := []struct{ a, b Code }{
		{"AAAAAAAA", "BAAAAAAA"},
		{"AAAAAAAA", "AAAAAAAB"},
		{"AAAAAAAA", "AAAAAAAA"},
	}
	for _, c := range cases {
		got := Equal(c.a, c.b)
		want := c.a == c.b
		assert.Equal(t, want, got)
	}
}
