package tenancy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercase passthrough", "acme", "acme"},
		{"uppercase folded", "ACME", "acme"},
		{"whitespace trimmed", "  acme  ", "acme"},
		{"underscore and dash allowed", "acme_corp-eu", "acme_corp-eu"},
		{"empty collapses", "", DefaultTenant},
		{"illegal chars collapse", "acme corp!", DefaultTenant},
		{"path traversal collapses", "../etc/passwd", DefaultTenant},
		{"too long collapses", strings.Repeat("a", 65), DefaultTenant},
		{"max length allowed", strings.Repeat("a", 64), strings.Repeat("a", 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.raw, DefaultTenant))
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("acme"))
	assert.False(t, Valid("Acme"))
	assert.False(t, Valid(""))
}
