package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveMath_Arithmetic(t *testing.T) {
	cases := []struct {
		name string
		expr string
		ctx  map[string]float64
		want string
	}{
		{"plain literal", "42", nil, "42"},
		{"single substitution", "1.1 * h", map[string]float64{"h": 100}, "110"},
		{"rounds to one decimal", "10 / 3", nil, "3.3"},
		{"strips trailing zero", "2 * 5", nil, "10"},
		{"parentheses", "(h + 1) * 2", map[string]float64{"h": 4}, "10"},
		{"longest key wins", "height + h", map[string]float64{"h": 1, "height": 10}, "11"},
		{"non arithmetic residue unchanged", "h meters", map[string]float64{"h": 100}, "h meters"},
		{"unknown identifier unchanged", "x + 1", nil, "x + 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveMath(tc.expr, tc.ctx)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveMath_Idempotent(t *testing.T) {
	ctx := map[string]float64{"h": 100}
	expr := "1.1 * h"
	once := ResolveMath(expr, ctx)
	twice := ResolveMath(once, ctx)
	assert.Equal(t, once, twice)
}

func TestResolveMath_DivideByZeroIsResidue(t *testing.T) {
	got := ResolveMath("1 / 0", nil)
	assert.Equal(t, "1 / 0", got)
}
