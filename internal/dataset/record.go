package dataset

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Record 一行数据, 列名到值的映射
type Record map[string]interface{}

// FromRecords builds a dataset from row records following the schema.
// Absent keys and nil values become missing values.
func FromRecords(schema []Column, records []Record) (*Dataset, error) {
	cols := make([]*Series, len(schema))
	for j, col := range schema {
		s := &Series{Name: col.Name, Type: col.Type}
		switch col.Type {
		case Numeric:
			s.Num = make([]float64, len(records))
		case Categorical:
			s.Str = make([]string, len(records))
		case Datetime:
			s.Time = make([]time.Time, len(records))
		default:
			return nil, fmt.Errorf("column %q: unknown type %q", col.Name, col.Type)
		}
		for i, rec := range records {
			if err := s.set(i, rec[col.Name]); err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, col.Name, err)
			}
		}
		cols[j] = s
	}
	return New(cols...)
}

func (s *Series) set(i int, v interface{}) error {
	switch s.Type {
	case Numeric:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		s.Num[i] = f
	case Categorical:
		if v == nil {
			return nil
		}
		s.Str[i] = fmt.Sprint(v)
	case Datetime:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		s.Time[i] = t
	}
	return nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		if x == "" {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

func toTime(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case string:
		if x == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", x)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
}
