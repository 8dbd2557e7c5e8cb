package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Decrement(t *testing.T) {
	b := Batch{ID: 7, ItemID: 1, Purchased: Qty("409.5"), Remaining: Qty("409.5")}

	next, err := b.Decrement(Qty("100"))
	require.NoError(t, err)
	assert.Equal(t, "309.50", next.Remaining.StringFixed(2))
	assert.Equal(t, "100.00", next.Allocated().StringFixed(2))
	assert.Equal(t, "409.50", b.Remaining.StringFixed(2), "receiver is not modified")

	_, err = next.Decrement(Qty("309.51"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(7), ise.BatchID)
	assert.Contains(t, err.Error(), "batch 7")

	_, err = next.Decrement(Qty("0"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestBatch_Increment(t *testing.T) {
	b := Batch{ID: 7, Purchased: Qty("10"), Remaining: Qty("4")}

	next, err := b.Increment(Qty("6"))
	require.NoError(t, err)
	assert.Equal(t, "10.00", next.Remaining.StringFixed(2))

	_, err = next.Increment(Qty("0.01"))
	assert.ErrorIs(t, err, ErrOverAllocation)
}

func TestBatch_IsExhausted(t *testing.T) {
	assert.True(t, Batch{Remaining: Qty("0")}.IsExhausted())
	assert.False(t, Batch{Remaining: Qty("0.01")}.IsExhausted())
}

func TestGroupByContainer(t *testing.T) {
	batches := []Batch{
		{ID: 1, ContainerRef: "MSKU-2", Purchased: Qty("5"), Remaining: Qty("1")},
		{ID: 2, ContainerRef: "MSKU-1", Purchased: Qty("5"), Remaining: Qty("5")},
		{ID: 3, ContainerRef: "MSKU-2", Purchased: Qty("3"), Remaining: Qty("3")},
	}

	groups := GroupByContainer(batches)
	require.Len(t, groups, 2)
	assert.Equal(t, "MSKU-2", groups[0].ContainerRef)
	assert.Equal(t, []int64{1, 3}, groups[0].BatchIDs)
	assert.Equal(t, "8.00", groups[0].Purchased.StringFixed(2))
	assert.Equal(t, "4.00", groups[0].Remaining.StringFixed(2))
	assert.Equal(t, int64(1), groups[0].OldestBatchID)
	assert.Equal(t, int64(2), groups[1].OldestBatchID)
}
