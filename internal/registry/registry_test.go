package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/preprocess"
	"autoforge/internal/testutils"
)

func trainedPackage(t *testing.T) (*Package, [][]float64) {
	t.Helper()
	ds := testutils.BinaryClassification(120, 1)
	spec := dataset.ProblemSpec{ProblemType: dataset.Classification, TargetColumn: "target", RandomSeed: 1, TestFraction: 0.25}
	prep, err := preprocess.NewPreprocessor(config.DefaultThresholds(), nil).Prepare(ds, spec, preprocess.Options{FeatureEngineering: true})
	require.NoError(t, err)

	m := estimator.NewRandomForest(estimator.TaskClassification, estimator.Params{"n_estimators": 5}, estimator.Setup{Seed: 1, NClasses: 2})
	require.NoError(t, m.Fit(prep.XTrain, prep.YTrain))
	return &Package{
		Model:        m,
		Transform:    prep.Transform,
		FeatureNames: prep.FeatureNames,
		TargetColumn: "target",
		ProblemType:  dataset.Classification,
		NClasses:     2,
		Background:   prep.XTrain[:10],
		Metrics:      map[string]float64{"accuracy": 0.9},
	}, prep.XTest
}

func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

func TestSaveReloadPredict(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	dir := suite.CreateTempDir("models")
	reg, err := New(dir, suite.Logger)
	require.NoError(t, err)

	pkg, X := trainedPackage(t)
	md, err := reg.Save("random_forest", pkg)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(md.ID, "random_forest_classification_"))
	assert.Equal(t, md.ID+".bin", md.ModelFile)
	assert.Equal(t, len(pkg.FeatureNames), md.NFeatures)
	assert.Equal(t, "target", md.TargetColumn)

	files := testutils.ListFiles(t, dir)
	assert.ElementsMatch(t, []string{md.ID + ".bin", md.ID + "_metadata.json"}, files)

	want, err := pkg.Model.Predict(X)
	require.NoError(t, err)

	fresh, err := New(dir, suite.Logger)
	require.NoError(t, err)
	loaded, loadedMD, err := fresh.Get(md.ID)
	require.NoError(t, err)
	assert.Equal(t, md.FeatureNames, loadedMD.FeatureNames)
	got, err := loaded.Model.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, pkg.Transform.FeatureNames, loaded.Transform.FeatureNames)
	assert.Equal(t, pkg.Transform.Plan.Names(), loaded.Transform.Plan.Names())
}

func TestListNewestFirstAndCollisions(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	reg, err := New(suite.TempDir, suite.Logger)
	require.NoError(t, err)
	reg.now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	pkg, _ := trainedPackage(t)
	first, err := reg.Save("random_forest", pkg)
	require.NoError(t, err)
	second, err := reg.Save("knn", pkg)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, "20240301_120100", first.Timestamp)

	reg.now = func() time.Time { return time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC) }
	dup, err := reg.Save("random_forest", pkg)
	require.NoError(t, err)
	assert.Equal(t, first.ID+"_2", dup.ID)
}

func TestDeleteRemovesBothFiles(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	reg, err := New(suite.TempDir, suite.Logger)
	require.NoError(t, err)
	pkg, _ := trainedPackage(t)
	md, err := reg.Save("random_forest", pkg)
	require.NoError(t, err)

	require.NoError(t, reg.Delete(md.ID))
	assert.Empty(t, testutils.ListFiles(t, suite.TempDir))
	_, _, err = reg.Get(md.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
	assert.True(t, apperrors.IsCode(reg.Delete(md.ID), apperrors.ErrCodeModelNotFound))
}

func TestLoadSkipsPartialArtifacts(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	reg, err := New(suite.TempDir, suite.Logger)
	require.NoError(t, err)
	pkg, _ := trainedPackage(t)
	md, err := reg.Save("random_forest", pkg)
	require.NoError(t, err)

	suite.CreateTempFile(".knn_classification_x.bin-123.tmp", "partial")
	suite.CreateTempFile("orphan_metadata.json", `{"model_id":"orphan","model_file":"orphan.bin"}`)
	suite.CreateTempFile("broken_metadata.json", `{not json`)
	require.NoError(t, os.WriteFile(filepath.Join(suite.TempDir, "notes.txt"), []byte("x"), 0o644))

	require.NoError(t, reg.Load())
	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, md.ID, list[0].ID)
}

func TestSaveRejectsEmptyPackage(t *testing.T) {
	reg, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = reg.Save("x", &Package{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePersistence))
}
