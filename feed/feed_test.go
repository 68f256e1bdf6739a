package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/backtest/tick"
)

func mkTick(instr string, at time.Time, bid, ask float64) tick.Tick {
	return tick.New(instr, at, decimal.NewFromFloat(bid), decimal.NewFromFloat(ask), tick.Second)
}

func TestInMemoryFeedMergesByTimestamp(t *testing.T) {
	f := NewInMemoryFeed(0)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	require.NoError(t, f.AddTicks("AAA", []tick.Tick{mkTick("AAA", t1, 10, 10.1), mkTick("AAA", t2, 11, 11.1)}))
	require.NoError(t, f.AddTicks("BBB", []tick.Tick{mkTick("BBB", t1, 20, 20.1)}))

	peek, ok := f.PeekDatetime()
	require.True(t, ok)
	assert.True(t, peek.Equal(t1))

	batch, err := f.NextTicks()
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	assert.True(t, batch.DateTime().Equal(t1))

	batch2, err := f.NextTicks()
	require.NoError(t, err)
	assert.Equal(t, 1, batch2.Len())
	assert.True(t, batch2.DateTime().Equal(t2))

	assert.True(t, f.EOF())
}

func TestInMemoryFeedLocksAfterConsumption(t *testing.T) {
	f := NewInMemoryFeed(0)
	now := time.Now()
	require.NoError(t, f.AddTicks("AAA", []tick.Tick{mkTick("AAA", now, 10, 10.1)}))

	_, err := f.NextTicks()
	require.NoError(t, err)

	err = f.AddTicks("AAA", []tick.Tick{mkTick("AAA", now.Add(time.Second), 11, 11.1)})
	assert.ErrorIs(t, err, ErrFeedLocked)
}

func TestInMemoryFeedDuplicateTimestampAcrossBatches(t *testing.T) {
	f := NewInMemoryFeed(0)
	now := time.Now()
	require.NoError(t, f.AddTicks("AAA", []tick.Tick{mkTick("AAA", now, 10, 10.1)}))
	require.NoError(t, f.AddTicks("BBB", []tick.Tick{mkTick("BBB", now, 20, 20.1)}))

	_, err := f.NextTicks()
	require.NoError(t, err)

	// Force lastEmitted back so the next call replays the same timestamp.
	dup := now
	f.lastEmitted = &dup
	f.cursor["BBB"] = 0

	_, err = f.NextTicks()
	assert.ErrorIs(t, err, ErrDuplicateTimestamp)
}

func TestRegisterInstrumentTracksDefault(t *testing.T) {
	f := NewInMemoryFeed(2)
	f.RegisterInstrument("AAA")
	f.RegisterInstrument("BBB")
	assert.Equal(t, "BBB", f.DefaultInstrument())

	_, ok := f.GetDataSeries("AAA")
	assert.True(t, ok)
	_, ok = f.GetDataSeries("ZZZ")
	assert.False(t, ok)
}

func TestTickDataSeriesRingBuffer(t *testing.T) {
	f := NewInMemoryFeed(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.AddTicks("AAA", []tick.Tick{
		mkTick("AAA", now, 1, 1.1),
		mkTick("AAA", now.Add(time.Second), 2, 2.1),
		mkTick("AAA", now.Add(2*time.Second), 3, 3.1),
	}))

	for !f.EOF() {
		_, err := f.NextTicks()
		require.NoError(t, err)
	}

	series, ok := f.GetDataSeries("AAA")
	require.True(t, ok)
	assert.Equal(t, 2, series.Len())

	last := series.Last(2)
	require.Len(t, last, 2)
	assert.True(t, last[0].Bid().Equal(decimal.NewFromInt(2)))
	assert.True(t, last[1].Bid().Equal(decimal.NewFromInt(3)))
}

func TestTextLoaderParsesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aaa.csv")
	content := "10.0,10.1,2024.01.01 09:30:00\n11.0,11.1,2024.01.01 09:30:01\nbad,row,here\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewTextLoader("AAA")
	loader.SkipMalformed = true

	f := NewInMemoryFeed(0)
	require.NoError(t, loader.Load(path, f))

	batch, err := f.NextTicks()
	require.NoError(t, err)
	tk, ok := batch.Tick("AAA")
	require.True(t, ok)
	assert.True(t, tk.Bid().Equal(decimal.NewFromFloat(10.0)))
}

func TestTextLoaderAbortsOnMalformedWhenNotSkipping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aaa.csv")
	require.NoError(t, os.WriteFile(path, []byte("not,a,tick\n"), 0o644))

	loader := NewTextLoader("AAA")
	f := NewInMemoryFeed(0)
	err := loader.Load(path, f)
	assert.Error(t, err)
}

func TestDateRangeFilter(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	filter := DateRangeFilter{From: from, To: to}

	in := mkTick("AAA", from.Add(time.Hour), 1, 1.1)
	out := mkTick("AAA", to.Add(time.Hour), 1, 1.1)

	assert.True(t, filter.Admit(in))
	assert.False(t, filter.Admit(out))
}

func TestUSEquityRTHFilter(t *testing.T) {
	filter := NewUSEquityRTHFilter()

	loc, _ := time.LoadLocation("America/New_York")
	if loc == nil {
		loc = time.UTC
	}
	weekday := time.Date(2024, 3, 4, 10, 0, 0, 0, loc) // Monday, within RTH
	weekend := time.Date(2024, 3, 2, 10, 0, 0, 0, loc)  // Saturday
	afterHours := time.Date(2024, 3, 4, 20, 0, 0, 0, loc)

	assert.True(t, filter.Admit(mkTick("AAA", weekday, 1, 1.1)))
	assert.False(t, filter.Admit(mkTick("AAA", weekend, 1, 1.1)))
	assert.False(t, filter.Admit(mkTick("AAA", afterHours, 1, 1.1)))
}
