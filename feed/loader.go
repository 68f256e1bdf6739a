package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/tick"
)

// DefaultDateTimeLayout is the layout TextLoader uses when none is
// configured, matching the source's "%Y.%m.%d %H:%M:%S" tick files.
const DefaultDateTimeLayout = "2006.01.02 15:04:05"

// TextLoader reads bid,ask,datetime rows from a CSV-shaped text file
// into an InMemoryFeed, grounded on the CSV tick replay idiom in the
// pack's rustyeddy-trader backtest command.
type TextLoader struct {
	Instrument     string
	DateTimeLayout string
	Frequency      tick.Frequency
	SkipMalformed  bool
}

// NewTextLoader returns a TextLoader for instrument using
// DefaultDateTimeLayout and tick.Second frequency, configurable via
// struct field assignment before calling Load.
func NewTextLoader(instrument string) *TextLoader {
	return &TextLoader{
		Instrument:     instrument,
		DateTimeLayout: DefaultDateTimeLayout,
		Frequency:      tick.Second,
	}
}

// Load reads path (bid,ask,datetime per row, optional header) and adds
// every parsed tick to f under l.Instrument. A malformed row aborts the
// load unless SkipMalformed is set, in which case it is logged and
// dropped.
func (l *TextLoader) Load(path string, f *InMemoryFeed) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("feed: open %s: %w", path, err)
	}
	defer file.Close()

	layout := l.DateTimeLayout
	if layout == "" {
		layout = DefaultDateTimeLayout
	}

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	var ticks []tick.Tick
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("feed: read %s: %w", path, err)
		}

		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "bid") {
				continue
			}
		}

		t, err := l.parseRow(row, layout)
		if err != nil {
			if l.SkipMalformed {
				log.Debug().Str("path", path).Strs("row", row).Err(err).Msg("feed: skipping malformed row")
				continue
			}
			return fmt.Errorf("feed: malformed row %v: %w", row, err)
		}
		ticks = append(ticks, t)
	}

	return f.AddTicks(l.Instrument, ticks)
}

func (l *TextLoader) parseRow(row []string, layout string) (tick.Tick, error) {
	if len(row) < 3 {
		return tick.Tick{}, fmt.Errorf("expected at least 3 fields, got %d", len(row))
	}

	bid, err := decimal.NewFromString(strings.TrimSpace(row[0]))
	if err != nil {
		return tick.Tick{}, fmt.Errorf("bid: %w", err)
	}
	ask, err := decimal.NewFromString(strings.TrimSpace(row[1]))
	if err != nil {
		return tick.Tick{}, fmt.Errorf("ask: %w", err)
	}
	dt, err := time.Parse(layout, strings.TrimSpace(row[2]))
	if err != nil {
		return tick.Tick{}, fmt.Errorf("datetime: %w", err)
	}

	return tick.New(l.Instrument, dt, bid, ask, l.Frequency), nil
}
