package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimTrailingBlank(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only blanks", "\n \n;;;\n", ""},
		{"clean", "a;b\n", "a;b\n"},
		{"no final newline", "a;b", "a;b\n"},
		{"separator lines", "a;b\n;;\n ; \n\n", "a;b\n"},
		{"inner blank kept", "a;b\n\nc;d\n\n", "a;b\n\nc;d\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(trimTrailingBlank([]byte(tt.in))))
		})
	}
}

func TestOrNA(t *testing.T) {
	assert.Equal(t, "N/A", orNA(""))
	assert.Equal(t, "N/A", orNA("  "))
	assert.Equal(t, "SEPA", orNA("SEPA"))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12.5", 12.5},
		{"12,5", 12.5},
		{" 3 ", 3},
		{"N/A", 0},
		{"", 0},
		{"abc", 0},
		{"-4", -4},
		{"NaN", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseNumber(tt.in), tt.in)
	}
	assert.Equal(t, 0.0, parseAmount("-4"))
}
