package problem

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/testutils"
)

func newDetector() *Detector {
	return NewDetector(config.DefaultThresholds())
}

func TestDetectRegressionForContinuousTarget(t *testing.T) {
	d := newDetector()
	for seed := int64(1); seed <= 5; seed++ {
		ds := testutils.Regression(100, seed)
		pt, err := d.Detect(ds, "y", Options{})
		require.NoError(t, err)
		assert.Equal(t, dataset.Regression, pt)
	}
}

func TestDetectClassification(t *testing.T) {
	d := newDetector()

	t.Run("two string values", func(t *testing.T) {
		pt, err := d.Detect(testutils.BinaryClassification(50, 3), "target", Options{})
		require.NoError(t, err)
		assert.Equal(t, dataset.Classification, pt)
	})

	t.Run("few distinct numeric values", func(t *testing.T) {
		pt, err := d.Detect(testutils.MultiClass(60, 3, 1), "label", Options{})
		require.NoError(t, err)
		assert.Equal(t, dataset.Classification, pt)
	})

	t.Run("low distinct ratio", func(t *testing.T) {
		// 30 distinct values over 1000 rows: above the distinct cap, below the ratio
		y := make([]float64, 1000)
		for i := range y {
			y[i] = float64(i % 30)
		}
		ds := dataset.MustNew(dataset.NewNumeric("y", y))
		pt, err := d.Detect(ds, "y", Options{})
		require.NoError(t, err)
		assert.Equal(t, dataset.Classification, pt)
	})
}

func TestDetectValidation(t *testing.T) {
	d := newDetector()

	t.Run("mostly missing target", func(t *testing.T) {
		ds := testutils.WithMissingTarget(testutils.Regression(100, 1), "y", 0.6)
		_, err := d.Detect(ds, "y", Options{})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientData))
	})

	t.Run("too few rows", func(t *testing.T) {
		ds := dataset.MustNew(dataset.NewNumeric("y", []float64{1, 2, 3, math.NaN()}))
		_, err := d.Detect(ds, "y", Options{})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientData))
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := d.Detect(testutils.Regression(20, 1), "nope", Options{})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("override still validated", func(t *testing.T) {
		ds := testutils.WithMissingTarget(testutils.Regression(100, 1), "y", 0.6)
		_, err := d.Detect(ds, "y", Options{Override: dataset.Regression})
		assert.Error(t, err)
	})
}

func TestDetectOverridesAndSpecialTypes(t *testing.T) {
	d := newDetector()
	ds := testutils.Regression(40, 2)

	pt, err := d.Detect(ds, "y", Options{Override: dataset.Classification})
	require.NoError(t, err)
	assert.Equal(t, dataset.Classification, pt)

	pt, err = d.Detect(ds, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, dataset.Clustering, pt)

	_, err = d.Detect(testutils.BinaryClassification(40, 1), "target", Options{Override: dataset.Regression})
	assert.Error(t, err)

	ts, err := ds.With(dataset.NewNumeric("t", make([]float64, 40)))
	require.NoError(t, err)
	pt, err = d.Detect(ts, "y", Options{TimeColumn: "t"})
	require.NoError(t, err)
	assert.Equal(t, dataset.TimeSeries, pt)
}

func TestThresholdsAreConfigurable(t *testing.T) {
	th := config.DefaultThresholds()
	th.ClassificationMaxDistinct = 200
	d := NewDetector(th)

	pt, err := d.Detect(testutils.Regression(100, 1), "y", Options{})
	require.NoError(t, err)
	assert.Equal(t, dataset.Classification, pt, fmt.Sprintf("threshold %d", th.ClassificationMaxDistinct))
}
