package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"autoforge/internal/dataset"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// missing 缺失值标记
func missing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "na", "nan", "null", "?":
		return true
	}
	return false
}

// readTable reads a CSV file with a header row
func readTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return parseTable(f)
}

func parseTable(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("csv has no header row")
	}
	return rows[0], rows[1:], nil
}

// loadDataset reads a CSV file and infers each column's type: numeric when every
// present value parses as a number, datetime when every present value parses as a
// timestamp, categorical otherwise
func loadDataset(path string) (*dataset.Dataset, error) {
	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return buildDataset(header, rows)
}

func buildDataset(header []string, rows [][]string) (*dataset.Dataset, error) {
	cols := make([]*dataset.Series, len(header))
	for j, name := range header {
		values := make([]string, len(rows))
		for i, row := range rows {
			if j < len(row) {
				values[i] = row[j]
			}
		}
		cols[j] = inferSeries(strings.TrimSpace(name), values)
	}
	return dataset.New(cols...)
}

func inferSeries(name string, values []string) *dataset.Series {
	if num, ok := parseNumbers(values); ok {
		return dataset.NewNumeric(name, num)
	}
	if ts, ok := parseTimes(values); ok {
		return dataset.NewDatetime(name, ts)
	}
	str := make([]string, len(values))
	for i, v := range values {
		if !missing(v) {
			str[i] = strings.TrimSpace(v)
		}
	}
	return dataset.NewCategorical(name, str)
}

func parseNumbers(values []string) ([]float64, bool) {
	out := make([]float64, len(values))
	present := 0
	for i, v := range values {
		if missing(v) {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
		present++
	}
	return out, present > 0
}

func parseTimes(values []string) ([]time.Time, bool) {
	out := make([]time.Time, len(values))
	present := 0
	for i, v := range values {
		if missing(v) {
			continue
		}
		t, ok := parseTime(strings.TrimSpace(v))
		if !ok {
			return nil, false
		}
		out[i] = t
		present++
	}
	return out, present > 0
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// loadRecords reads a CSV file as prediction records; the stored schema decides
// how each value is parsed
func loadRecords(path string) ([]dataset.Record, error) {
	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return toRecords(header, rows), nil
}

func toRecords(header []string, rows [][]string) []dataset.Record {
	out := make([]dataset.Record, len(rows))
	for i, row := range rows {
		rec := make(dataset.Record, len(header))
		for j, name := range header {
			if j >= len(row) || missing(row[j]) {
				continue
			}
			rec[strings.TrimSpace(name)] = strings.TrimSpace(row[j])
		}
		out[i] = rec
	}
	return out
}
