package preprocess

import (
	"fmt"

	"autoforge/internal/config"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/features"
	"autoforge/internal/logger"
)

// highMissingRatio 输入列缺失率超过该值时给出数据质量警告
const highMissingRatio = 0.3

// Options 预处理选项
type Options struct {
	FeatureEngineering bool
	TimeColumn         string
	DropColumns        []string
}

// Prepared 预处理输出. 行索引指向去除缺失目标后的数据集
type Prepared struct {
	XTrain       [][]float64
	XTest        [][]float64
	YTrain       []float64
	YTest        []float64
	TrainRows    []int
	TestRows     []int
	FeatureNames []string
	Transform    *Transform
	Classes      []string
	Dropped      []string
	Warnings     []string
}

// NClasses returns the number of target classes, 0 for non-classification problems
func (p *Prepared) NClasses() int { return len(p.Classes) }

// Preprocessor 数据预处理器
type Preprocessor struct {
	thresholds config.Thresholds
	engineer   *features.Engineer
	logger     logger.Logger
}

// NewPreprocessor creates a preprocessor
func NewPreprocessor(thresholds config.Thresholds, log logger.Logger) *Preprocessor {
	log = logger.OrDefault(log)
	return &Preprocessor{
		thresholds: thresholds,
		engineer:   features.NewEngineer(log),
		logger:     log,
	}
}

func preprocessingError(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrCodePreprocessing, format, args...).WithStage("preprocess")
}

// Prepare splits the dataset, fits every encoder on the training rows only
// and encodes both partitions with the resulting Transform
func (p *Preprocessor) Prepare(ds *dataset.Dataset, spec dataset.ProblemSpec, opts Options) (*Prepared, error) {
	out := &Prepared{}
	tr := &Transform{ProblemType: spec.ProblemType, Target: spec.TargetColumn}

	usable := ds
	var y []float64
	if spec.ProblemType.Supervised() {
		target, ok := ds.Column(spec.TargetColumn)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "target column %q not found", spec.TargetColumn)
		}
		var rows []int
		for i := 0; i < ds.Len(); i++ {
			if !target.IsMissing(i) {
				rows = append(rows, i)
			}
		}
		if len(rows) < 2 {
			return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "only %d rows with a target value", len(rows))
		}
		usable = ds.Take(rows)
		target, _ = usable.Column(spec.TargetColumn)
		if spec.ProblemType == dataset.Classification {
			tr.Classes = classesOf(target)
			tr.TargetNumeric = target.Type == dataset.Numeric
			out.Classes = tr.Classes
		}
		var err error
		if y, err = tr.EncodeTarget(target); err != nil {
			return nil, err
		}
	}

	drop := append([]string{spec.TargetColumn}, opts.DropColumns...)
	inputs := usable.Without(drop...)
	tr.Inputs = inputs.Schema()
	out.Warnings = append(out.Warnings, missingWarnings(inputs)...)

	n := inputs.Len()
	switch {
	case spec.ProblemType == dataset.Clustering:
		out.TrainRows = make([]int, n)
		for i := range out.TrainRows {
			out.TrainRows[i] = i
		}
	case spec.ProblemType == dataset.Classification:
		out.TrainRows, out.TestRows = StratifiedSplit(y, spec.TestFraction, spec.RandomSeed)
	case spec.ProblemType == dataset.TimeSeries:
		out.TrainRows, out.TestRows = TailSplit(n, spec.TestFraction)
	default:
		out.TrainRows, out.TestRows = RandomSplit(n, spec.TestFraction, spec.RandomSeed)
	}
	if spec.ProblemType.Supervised() && len(out.TestRows) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData,
			"no test rows can be held out from %d rows: every class needs at least 2 rows", n).WithStage("preprocess")
	}

	trainFrame := inputs.Take(out.TrainRows)
	if opts.FeatureEngineering {
		tr.Plan = p.engineer.Fit(trainFrame, opts.TimeColumn)
	}
	engineered, err := tr.Plan.Apply(trainFrame)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodePreprocessing, "feature engineering failed", err).WithStage("preprocess")
	}

	for _, col := range engineered.Columns() {
		enc, ok, err := fitEncoder(col, p.thresholds.OneHotMaxCardinality)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodePreprocessing, "encoder fit failed", err).WithStage("preprocess")
		}
		if !ok {
			out.Dropped = append(out.Dropped, col.Name)
			continue
		}
		tr.Encoders = append(tr.Encoders, enc)
		tr.FeatureNames = append(tr.FeatureNames, enc.OutputNames()...)
	}
	if len(tr.Encoders) == 0 {
		return nil, preprocessingError("no usable feature columns after preprocessing (dropped %v)", out.Dropped)
	}
	if len(out.Dropped) > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("dropped constant or empty columns: %v", out.Dropped))
	}

	if out.XTrain, err = tr.Apply(trainFrame); err != nil {
		return nil, err
	}
	if len(out.TestRows) > 0 {
		if out.XTest, err = tr.Apply(inputs.Take(out.TestRows)); err != nil {
			return nil, err
		}
	}
	if y != nil {
		out.YTrain = pick(y, out.TrainRows)
		out.YTest = pick(y, out.TestRows)
	}
	out.Transform = tr
	out.FeatureNames = tr.FeatureNames

	p.logger.Info("preprocessing complete",
		"train_rows", len(out.TrainRows), "test_rows", len(out.TestRows),
		"features", len(tr.FeatureNames), "dropped", len(out.Dropped))
	return out, nil
}

func pick(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = v[i]
	}
	return out
}

func missingWarnings(d *dataset.Dataset) []string {
	if d.Len() == 0 {
		return nil
	}
	var out []string
	for _, col := range d.Columns() {
		if ratio := float64(col.MissingCount()) / float64(d.Len()); ratio > highMissingRatio {
			out = append(out, fmt.Sprintf("column %q is %.0f%% missing", col.Name, ratio*100))
		}
	}
	return out
}
