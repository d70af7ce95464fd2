package preprocess

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/features"
)

// EncoderKind 列编码方式
type EncoderKind string

const (
	EncodeNumeric  EncoderKind = "numeric"
	EncodeDatetime EncoderKind = "datetime"
	EncodeOneHot   EncoderKind = "onehot"
	EncodeLabel    EncoderKind = "label"
)

// UnseenLabel 标签编码中未见类别的哨兵值
const UnseenLabel = -1.0

// MissingCategory 类别缺失值的桶名
const MissingCategory = "__missing__"

const secondsPerDay = 86400.0

// ColumnEncoder 单列的拟合参数, 只在训练集上拟合
type ColumnEncoder struct {
	Name   string
	Kind   EncoderKind
	Median float64
	// Mean, Std 标准化参数, 来自 StandardScaler
	Mean       float64
	Std        float64
	Categories []string
	Codes      map[string]int
}

// Width is the number of output features the encoder produces
func (e ColumnEncoder) Width() int {
	if e.Kind == EncodeOneHot {
		return len(e.Categories)
	}
	return 1
}

// OutputNames returns the produced feature names
func (e ColumnEncoder) OutputNames() []string {
	if e.Kind != EncodeOneHot {
		return []string{e.Name}
	}
	out := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		out[i] = e.Name + "=" + c
	}
	return out
}

// Transform 可重放的预处理描述符, 与模型一同持久化
type Transform struct {
	ProblemType   dataset.ProblemType
	Target        string
	Classes       []string
	TargetNumeric bool
	Plan          *features.Plan
	Encoders      []ColumnEncoder
	FeatureNames  []string
	// Inputs 原始输入列, 预测时按此 schema 解析记录
	Inputs []dataset.Column
}

// NumFeatures returns the width of the encoded matrix
func (t *Transform) NumFeatures() int { return len(t.FeatureNames) }

// Apply encodes a dataset exactly as the training data was encoded.
// Unseen categories never fail: one-hot yields all zeros, label encoding yields UnseenLabel.
func (t *Transform) Apply(d *dataset.Dataset) ([][]float64, error) {
	engineered, err := t.Plan.Apply(d)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "feature plan replay failed", err)
	}
	n := engineered.Len()
	X := make([][]float64, n)
	width := t.NumFeatures()
	for i := range X {
		X[i] = make([]float64, 0, width)
	}
	for _, enc := range t.Encoders {
		col, ok := engineered.Column(enc.Name)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "input column %q is missing", enc.Name)
		}
		if err := enc.check(col); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			X[i] = enc.encode(X[i], col, i)
		}
	}
	return X, nil
}

func (e ColumnEncoder) check(col *dataset.Series) error {
	want := dataset.Numeric
	switch e.Kind {
	case EncodeDatetime:
		want = dataset.Datetime
	case EncodeOneHot, EncodeLabel:
		want = dataset.Categorical
	}
	if col.Type != want {
		return apperrors.Newf(apperrors.ErrCodeValidation, "column %q is %s, expected %s", e.Name, col.Type, want)
	}
	return nil
}

func (e ColumnEncoder) encode(row []float64, col *dataset.Series, i int) []float64 {
	switch e.Kind {
	case EncodeNumeric, EncodeDatetime:
		v, ok := numericAt(col, i)
		if !ok {
			v = e.Median
		}
		return append(row, (v-e.Mean)/e.Std)
	case EncodeOneHot:
		code, ok := e.Codes[category(col, i)]
		for j := range e.Categories {
			if ok && j == code {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
		return row
	default:
		if code, ok := e.Codes[category(col, i)]; ok {
			return append(row, float64(code))
		}
		return append(row, UnseenLabel)
	}
}

func category(col *dataset.Series, i int) string {
	if col.IsMissing(i) {
		return MissingCategory
	}
	return col.Str[i]
}

func unixDays(t time.Time) float64 {
	return float64(t.Unix()) / secondsPerDay
}

// numericAt reads row i of a numeric or datetime column; missing and infinite values report false
func numericAt(col *dataset.Series, i int) (float64, bool) {
	if col.IsMissing(i) {
		return 0, false
	}
	if col.Type == dataset.Datetime {
		return unixDays(col.Time[i]), true
	}
	v := col.Num[i]
	return v, !math.IsInf(v, 0)
}

// EncodeTarget maps target values to model space: class index for classification, the value otherwise.
// Unknown classes and missing values are errors.
func (t *Transform) EncodeTarget(s *dataset.Series) ([]float64, error) {
	out := make([]float64, s.Len())
	if t.ProblemType != dataset.Classification {
		if s.Type != dataset.Numeric {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "target %q must be numeric", s.Name)
		}
		copy(out, s.Num)
		return out, nil
	}
	index := make(map[string]int, len(t.Classes))
	for i, c := range t.Classes {
		index[c] = i
	}
	for i := range out {
		if s.IsMissing(i) {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "target %q missing at row %d", s.Name, i)
		}
		k, ok := index[s.StringAt(i)]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "unknown class %q", s.StringAt(i))
		}
		out[i] = float64(k)
	}
	return out, nil
}

// DecodeTarget maps a model output back to the caller's label space
func (t *Transform) DecodeTarget(v float64) interface{} {
	if t.ProblemType != dataset.Classification {
		return v
	}
	k := int(math.Round(v))
	if k < 0 || k >= len(t.Classes) {
		return nil
	}
	if t.TargetNumeric {
		if f, err := strconv.ParseFloat(t.Classes[k], 64); err == nil {
			return f
		}
	}
	return t.Classes[k]
}

// classesOf returns the distinct labels, numerically ordered for numeric targets
func classesOf(s *dataset.Series) []string {
	classes := s.Distinct()
	if s.Type == dataset.Numeric {
		sort.Slice(classes, func(i, j int) bool {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			return a < b
		})
	} else {
		sort.Strings(classes)
	}
	return classes
}

// fitEncoder fits one column on training rows. ok is false for columns carrying no signal.
func fitEncoder(col *dataset.Series, maxOneHot int) (ColumnEncoder, bool, error) {
	enc := ColumnEncoder{Name: col.Name}
	switch col.Type {
	case dataset.Numeric, dataset.Datetime:
		enc.Kind = EncodeNumeric
		if col.Type == dataset.Datetime {
			enc.Kind = EncodeDatetime
		}
		var vals []float64
		for i := 0; i < col.Len(); i++ {
			if v, ok := numericAt(col, i); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return enc, false, nil
		}
		sort.Float64s(vals)
		if vals[0] == vals[len(vals)-1] {
			return enc, false, nil
		}
		enc.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
		// 缺失值用中位数填充后再计算缩放参数
		filled := make([]float64, col.Len())
		for i := range filled {
			filled[i] = enc.Median
			if v, ok := numericAt(col, i); ok {
				filled[i] = v
			}
		}
		mean, scale, err := fitStandardScale(filled)
		if err != nil {
			return enc, false, fmt.Errorf("column %q: %w", col.Name, err)
		}
		enc.Mean, enc.Std = mean, scale
		return enc, true, nil
	case dataset.Categorical:
		seen := make(map[string]bool)
		var cats []string
		for i := 0; i < col.Len(); i++ {
			c := category(col, i)
			if !seen[c] {
				seen[c] = true
				cats = append(cats, c)
			}
		}
		if len(cats) < 2 {
			return enc, false, nil
		}
		sort.Strings(cats)
		enc.Categories = cats
		enc.Codes = make(map[string]int, len(cats))
		for i, c := range cats {
			enc.Codes[c] = i
		}
		if len(cats) <= maxOneHot {
			enc.Kind = EncodeOneHot
		} else {
			enc.Kind = EncodeLabel
		}
		return enc, true, nil
	default:
		return enc, false, fmt.Errorf("column %q has unsupported type %q", col.Name, col.Type)
	}
}
