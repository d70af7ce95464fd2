package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/dataset"
	"autoforge/internal/logger"
)

func fixture() *dataset.Dataset {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	n := 40
	ts := make([]time.Time, n)
	skewed := make([]float64, n)
	a := make([]float64, n)
	b := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		ts[i] = base.Add(time.Duration(i) * 24 * time.Hour)
		skewed[i] = math.Exp(float64(i) / 5)
		a[i] = float64(i%7) - 3
		b[i] = float64(i%5) * 2
		y[i] = float64(i)
	}
	return dataset.MustNew(
		dataset.NewDatetime("when", ts),
		dataset.NewNumeric("skewed", skewed),
		dataset.NewNumeric("a", a),
		dataset.NewNumeric("b", b),
		dataset.NewNumeric("y", y),
	)
}

func TestEngineerFit(t *testing.T) {
	plan := NewEngineer(logger.NewNop()).Fit(fixture(), "y")
	names := plan.Names()

	assert.Contains(t, names, "when_month")
	assert.Contains(t, names, "when_weekday")
	assert.Contains(t, names, "skewed_log1p")
	assert.Contains(t, names, "b_x_a")
	assert.Contains(t, names, "a_sq")
	// a 含负值, 不做对数变换
	assert.NotContains(t, names, "a_log1p")
	for _, n := range names {
		assert.NotContains(t, n, "y_", "target must never feed a derived feature")
	}
}

func TestInteractionCap(t *testing.T) {
	var cols []*dataset.Series
	for j := 0; j < 8; j++ {
		v := make([]float64, 20)
		for i := range v {
			v[i] = float64((i*(j+3))%11) * float64(j+1)
		}
		cols = append(cols, dataset.NewNumeric(string(rune('a'+j)), v))
	}
	plan := NewEngineer(logger.NewNop()).Fit(dataset.MustNew(cols...))

	var squares, interactions int
	for _, s := range plan.Steps {
		switch s.Kind {
		case StepSquare:
			squares++
		case StepInteraction:
			interactions++
		}
	}
	assert.Equal(t, 5, squares)
	assert.Equal(t, 10, interactions)
}

func TestPlanApplyReplays(t *testing.T) {
	train := fixture()
	plan := NewEngineer(logger.NewNop()).Fit(train, "y")

	out, err := plan.Apply(train)
	require.NoError(t, err)
	assert.Equal(t, len(train.Names())+len(plan.Steps), len(out.Names()))

	month, ok := out.Column("when_month")
	require.True(t, ok)
	assert.Equal(t, 3.0, month.Num[0])

	// 按方差排序, b 的方差大于 a
	ba, ok := out.Column("b_x_a")
	require.True(t, ok)
	assert.Equal(t, -4.0, ba.Num[1])

	t.Run("missing source column", func(t *testing.T) {
		_, err := plan.Apply(train.Without("a"))
		assert.Error(t, err)
	})

	t.Run("nil plan is identity", func(t *testing.T) {
		var p *Plan
		got, err := p.Apply(train)
		require.NoError(t, err)
		assert.Same(t, train, got)
	})
}
