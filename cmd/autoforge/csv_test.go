package main

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/dataset"
	"autoforge/internal/learning/automl"
	"autoforge/internal/testutils"
)

const sample = `age,city,joined,churn
34,paris,2024-01-05,yes
NA,berlin,2024-02-11,no
51,,2024-03-20,no
28,paris,,yes
`

func TestLoadDatasetInfersTypes(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	ds, err := loadDataset(suite.CreateTempFile("data.csv", sample))
	require.NoError(t, err)
	require.Equal(t, 4, ds.Len())

	types := map[string]dataset.ColumnType{}
	for _, col := range ds.Schema() {
		types[col.Name] = col.Type
	}
	assert.Equal(t, dataset.Numeric, types["age"])
	assert.Equal(t, dataset.Categorical, types["city"])
	assert.Equal(t, dataset.Datetime, types["joined"])
	assert.Equal(t, dataset.Categorical, types["churn"])

	age, _ := ds.Column("age")
	assert.True(t, math.IsNaN(age.Num[1]))
	assert.Equal(t, 51.0, age.Num[2])

	city, _ := ds.Column("city")
	assert.True(t, city.IsMissing(2))

	joined, _ := ds.Column("joined")
	assert.Equal(t, time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC), joined.Time[1])
	assert.True(t, joined.IsMissing(3))
}

func TestParseTableErrors(t *testing.T) {
	_, _, err := parseTable(strings.NewReader(""))
	assert.Error(t, err)

	_, _, err = parseTable(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestToRecordsSkipsMissing(t *testing.T) {
	header, rows, err := parseTable(strings.NewReader(sample))
	require.NoError(t, err)

	recs := toRecords(header, rows)
	require.Len(t, recs, 4)
	assert.Equal(t, "34", recs[0]["age"])
	assert.NotContains(t, recs[1], "age")
	assert.NotContains(t, recs[2], "city")

	// the stored schema parses the strings back
	ds, err := dataset.FromRecords([]dataset.Column{{Name: "age", Type: dataset.Numeric}}, recs)
	require.NoError(t, err)
	age, _ := ds.Column("age")
	assert.Equal(t, 34.0, age.Num[0])
	assert.True(t, age.IsMissing(1))
}

func TestSummarizeDropsNonFiniteValues(t *testing.T) {
	res := &automl.Result{
		RunID:   "run-1",
		Status:  automl.StatusError,
		Score:   math.NaN(),
		Metrics: map[string]float64{"accuracy": 0.9, "roc_auc": math.NaN()},
		Leaderboard: []automl.CandidateReport{
			{Candidate: "knn", Status: "failed", Error: "boom"},
		},
		Duration: 1500 * time.Millisecond,
	}
	s := summarize(res)
	assert.Nil(t, s.Score)
	assert.Equal(t, map[string]float64{"accuracy": 0.9}, s.Metrics)
	require.Len(t, s.Leaderboard, 1)
	assert.Equal(t, "boom", s.Leaderboard[0].Error)
	assert.Equal(t, "1.5s", s.Duration)
}
