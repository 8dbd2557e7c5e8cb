package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQty_RoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "12.35", Qty("12.345").StringFixed(QtyPlaces))
	assert.Equal(t, "-0.01", RoundQty(decimal.RequireFromString("-0.005")).StringFixed(QtyPlaces))
	assert.Panics(t, func() { Qty("12kg") })
}

func TestPositiveQty(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1.00"},
		{in: "0.005", want: "0.01"},
		{in: "0.004", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PositiveQty(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuantity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(QtyPlaces))
		})
	}
}

func TestWithinEpsilon(t *testing.T) {
	assert.True(t, WithinEpsilon(Qty("10"), decimal.RequireFromString("10.005")))
	assert.False(t, WithinEpsilon(Qty("10"), decimal.RequireFromString("10.006")))
	assert.True(t, WithinEpsilon(Qty("10"), decimal.RequireFromString("9.995")))
}
