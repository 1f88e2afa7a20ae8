package stores

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ReadBarsCSV parses daily pricing bars from CSV. The header row must name
// a date and an asset column; any of open, high, low, close, and volume
// may follow in any order. Empty cells become missing values.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty CSV input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("CSV header is missing a date column")
	}
	assetCol, ok := cols["asset"]
	if !ok {
		return nil, fmt.Errorf("CSV header is missing an asset column")
	}

	field := func(record []string, name string) (float64, error) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return math.NaN(), nil
		}
		raw := strings.TrimSpace(record[i])
		if raw == "" {
			return math.NaN(), nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s value %q", name, raw)
		}
		return v, nil
	}

	bars := []Bar{}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		session, err := time.ParseInLocation(sessionLayout, strings.TrimSpace(record[dateCol]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad date %q", line, record[dateCol])
		}
		asset := strings.TrimSpace(record[assetCol])
		if asset == "" {
			return nil, fmt.Errorf("line %d: empty asset", line)
		}

		bar := Bar{Asset: asset, Session: session}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
			{"volume", &bar.Volume},
		} {
			v, err := field(record, f.name)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}

	return bars, nil
}
