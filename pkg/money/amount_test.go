package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringFormat(t *testing.T) {
	cases := map[Amount]string{
		500001:     "0.00500001",
		500000:     "0.00500000",
		1:          "0.00000001",
		0:          "0.00000000",
		1234567890: "12.34567890",
	}
	for units, want := range cases {
		assert.Equal(t, want, units.String())
	}
}

func TestParseRoundTrip(t *testing.T) {
	amounts := []Amount{0, 1, 500001, 1234567890, 999999999999}
	for _, a := range amounts {
		parsed, err := Parse(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
}

func TestParseShorthand(t *testing.T) {
	a, err := Parse("0.005")
	require.NoError(t, err)
	assert.Equal(t, Amount(500000), a)

	a, err = Parse("12")
	require.NoError(t, err)
	assert.Equal(t, Amount(1200000000), a)
}

func TestParseRejectsTooManyFractionalDigits(t *testing.T) {
	_, err := Parse("0.123456789")
	require.Error(t, err)
}

func TestSequentialDistinctness(t *testing.T) {
	const pricePerItem = 500000
	seen := make(map[Amount]bool)
	var prev Amount
	for nextID := int64(1); nextID <= 1000; nextID++ {
		amt := FromUnits(pricePerItem*1 + nextID)
		assert.False(t, seen[amt], "amount %s collided", amt)
		seen[amt] = true
		if nextID > 1 {
			assert.Equal(t, Amount(1), amt-prev)
		}
		prev = amt
	}
}
