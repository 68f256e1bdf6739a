package tick

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickPriceIsBid(t *testing.T) {
	now := time.Now()
	tk := New("AAA", now, decimal.NewFromInt(10), decimal.NewFromFloat(10.1), Trade)

	assert.True(t, tk.Price().Equal(tk.Bid()))
	assert.Equal(t, "AAA", tk.Instrument())
	assert.Equal(t, now, tk.DateTime())
}

func TestFrequencyRank(t *testing.T) {
	assert.True(t, Day.Rank() > Minute.Rank())
	assert.True(t, Minute.Rank() > Trade.Rank())
	assert.True(t, Day.AtLeastDaily())
	assert.False(t, Minute.AtLeastDaily())
	assert.True(t, Week.AtLeastDaily())
}

func TestNewBatchRejectsEmpty(t *testing.T) {
	_, err := NewBatch(map[string]Tick{})
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestNewBatchRejectsTimestampMismatch(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	_, err := NewBatch(map[string]Tick{
		"AAA": New("AAA", t1, decimal.NewFromInt(10), decimal.NewFromInt(11), Second),
		"BBB": New("BBB", t2, decimal.NewFromInt(20), decimal.NewFromInt(21), Second),
	})
	require.ErrorIs(t, err, ErrTimestampMismatch)
}

func TestNewBatchGroupsByTimestamp(t *testing.T) {
	now := time.Now()
	batch, err := NewBatch(map[string]Tick{
		"AAA": New("AAA", now, decimal.NewFromInt(10), decimal.NewFromInt(11), Second),
		"BBB": New("BBB", now, decimal.NewFromInt(20), decimal.NewFromInt(21), Second),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Len())
	assert.True(t, batch.DateTime().Equal(now))

	tk, ok := batch.Tick("AAA")
	require.True(t, ok)
	assert.True(t, tk.Bid().Equal(decimal.NewFromInt(10)))

	_, ok = batch.Tick("CCC")
	assert.False(t, ok)
}
