package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonWeiToCoinMicros(t *testing.T) {
	tests := []struct {
		name string
		wei  string
		want int64
	}{
		{"one MON is 100 Coin", "1000000000000000000", 100_000_000},
		{"half MON", "500000000000000000", 50_000_000},
		{"one micro-Coin exactly", "10000000000", 1},
		{"just under one micro truncates to zero", "9999999999", 0},
		{"zero", "0", 0},
		{"beyond int64 wei", "100000000000000000000", 10_000_000_000}, // 100 MON
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MonWeiToCoinMicros(tt.wei)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMonWeiToCoinMicrosRejects(t *testing.T) {
	for _, wei := range []string{"", "abc", "-1", "1.5", "0x10"} {
		_, err := MonWeiToCoinMicros(wei)
		assert.ErrorIs(t, err, ErrInvalidWeiAmount, "wei=%q", wei)
	}
}

func TestCoinMicrosToMonWei(t *testing.T) {
	assert.Equal(t, "1000000000000000000", CoinMicrosToMonWei(100_000_000)) // 100 Coin = 1 MON
	assert.Equal(t, "10000000000", CoinMicrosToMonWei(1))
	assert.Equal(t, "0", CoinMicrosToMonWei(0))
}

func TestConversionRoundTripNeverInventsValue(t *testing.T) {
	for _, micros := range []int64{1, 7, 999_999, 1_000_000, 123_456_789, 1 << 40} {
		wei := CoinMicrosToMonWei(micros)
		back, err := MonWeiToCoinMicros(wei)
		require.NoError(t, err)
		assert.Equal(t, micros, back, "micros=%d", micros)
	}
}
