package dataset

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ColumnType 列的语义类型
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Datetime    ColumnType = "datetime"
)

// Column 列描述
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Series 一列数据. 缺失值: 数值为 NaN, 类别为空串, 时间为零值
type Series struct {
	Name string
	Type ColumnType
	Num  []float64
	Str  []string
	Time []time.Time
}

// NewNumeric creates a numeric column
func NewNumeric(name string, values []float64) *Series {
	return &Series{Name: name, Type: Numeric, Num: values}
}

// NewCategorical creates a categorical column
func NewCategorical(name string, values []string) *Series {
	return &Series{Name: name, Type: Categorical, Str: values}
}

// NewDatetime creates a datetime column
func NewDatetime(name string, values []time.Time) *Series {
	return &Series{Name: name, Type: Datetime, Time: values}
}

// Len returns the number of rows
func (s *Series) Len() int {
	switch s.Type {
	case Numeric:
		return len(s.Num)
	case Categorical:
		return len(s.Str)
	default:
		return len(s.Time)
	}
}

// IsMissing reports whether row i is missing
func (s *Series) IsMissing(i int) bool {
	switch s.Type {
	case Numeric:
		return math.IsNaN(s.Num[i])
	case Categorical:
		return s.Str[i] == ""
	default:
		return s.Time[i].IsZero()
	}
}

// MissingCount counts missing rows
func (s *Series) MissingCount() int {
	n := 0
	for i := 0; i < s.Len(); i++ {
		if s.IsMissing(i) {
			n++
		}
	}
	return n
}

// StringAt renders row i as a string key, used for class labels and distinct counts
func (s *Series) StringAt(i int) string {
	switch s.Type {
	case Numeric:
		return strconv.FormatFloat(s.Num[i], 'g', -1, 64)
	case Categorical:
		return s.Str[i]
	default:
		return s.Time[i].Format(time.RFC3339Nano)
	}
}

// Distinct returns the distinct non-missing values in first-seen order
func (s *Series) Distinct() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < s.Len(); i++ {
		if s.IsMissing(i) {
			continue
		}
		k := s.StringAt(i)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// Take returns a new series holding the given rows
func (s *Series) Take(idx []int) *Series {
	out := &Series{Name: s.Name, Type: s.Type}
	switch s.Type {
	case Numeric:
		out.Num = make([]float64, len(idx))
		for j, i := range idx {
			out.Num[j] = s.Num[i]
		}
	case Categorical:
		out.Str = make([]string, len(idx))
		for j, i := range idx {
			out.Str[j] = s.Str[i]
		}
	default:
		out.Time = make([]time.Time, len(idx))
		for j, i := range idx {
			out.Time[j] = s.Time[i]
		}
	}
	return out
}

// Dataset 列式存储的矩形数据集, 对流水线只读
type Dataset struct {
	cols  []*Series
	index map[string]int
	rows  int
}

// New builds a dataset; every column must have the same length and a unique name
func New(cols ...*Series) (*Dataset, error) {
	d := &Dataset{index: make(map[string]int, len(cols)), rows: -1}
	for _, c := range cols {
		if _, dup := d.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if d.rows >= 0 && c.Len() != d.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), d.rows)
		}
		d.rows = c.Len()
		d.index[c.Name] = len(d.cols)
		d.cols = append(d.cols, c)
	}
	if d.rows < 0 {
		d.rows = 0
	}
	return d, nil
}

// MustNew is New that panics, for fixtures
func MustNew(cols ...*Series) *Dataset {
	d, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the row count
func (d *Dataset) Len() int { return d.rows }

// Columns returns the columns in schema order
func (d *Dataset) Columns() []*Series { return d.cols }

// Schema returns the column descriptors
func (d *Dataset) Schema() []Column {
	out := make([]Column, len(d.cols))
	for i, c := range d.cols {
		out[i] = Column{Name: c.Name, Type: c.Type}
	}
	return out
}

// Names returns the column names in schema order
func (d *Dataset) Names() []string {
	out := make([]string, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by name
func (d *Dataset) Column(name string) (*Series, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.cols[i], true
}

// Without returns a view without the named columns
func (d *Dataset) Without(names ...string) *Dataset {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []*Series
	for _, c := range d.cols {
		if !drop[c.Name] {
			keep = append(keep, c)
		}
	}
	out, _ := New(keep...)
	if len(keep) == 0 {
		out.rows = d.rows
	}
	return out
}

// With returns a dataset with extra columns appended
func (d *Dataset) With(cols ...*Series) (*Dataset, error) {
	all := append(append([]*Series{}, d.cols...), cols...)
	return New(all...)
}

// Take returns a new dataset holding the given rows
func (d *Dataset) Take(idx []int) *Dataset {
	cols := make([]*Series, len(d.cols))
	for i, c := range d.cols {
		cols[i] = c.Take(idx)
	}
	out, _ := New(cols...)
	if len(cols) == 0 {
		out.rows = len(idx)
	}
	return out
}

// NumericColumns returns the names of numeric columns in schema order
func (d *Dataset) NumericColumns() []string {
	var out []string
	for _, c := range d.cols {
		if c.Type == Numeric {
			out = append(out, c.Name)
		}
	}
	return out
}
