package estimator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/YuminosukeSato/scigo/sklearn/lightgbm"
	"gonum.org/v1/gonum/mat"
)

// booster scigo LightGBM 估计器的 sklearn 风格接口
type booster interface {
	Fit(X, y mat.Matrix) error
	Predict(X mat.Matrix) (mat.Matrix, error)
}

type probaBooster interface {
	booster
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

type paramSetter interface {
	SetParams(params map[string]interface{}) error
}

// GradientBoosting 梯度提升树, 训练和预测交给 scigo 的 LightGBM.
// booster 本身不参与 gob 编码: 模型保存训练数据, 加载后第一次预测时重新训练.
type GradientBoosting struct {
	Task         Task
	NEstimators  int
	LearningRate float64
	MaxDepth     int
	NumLeaves    int
	NClasses     int
	NFeatures    int
	TrainX       [][]float64
	TrainY       []float64

	mu      sync.Mutex
	booster booster
}

// NewGradientBoosting creates a LightGBM classifier or regressor for the task
func NewGradientBoosting(task Task, params Params, setup Setup) *GradientBoosting {
	return &GradientBoosting{
		Task:         task,
		NEstimators:  params.Int("n_estimators", 60),
		LearningRate: params.Float("learning_rate", 0.1),
		MaxDepth:     params.Int("max_depth", 3),
		NumLeaves:    params.Int("num_leaves", 31),
		NClasses:     setup.NClasses,
	}
}

func (g *GradientBoosting) newBooster() (booster, error) {
	var est interface{}
	if g.Task == TaskClassification {
		est = lightgbm.NewLGBMClassifier()
	} else {
		est = lightgbm.NewLGBMRegressor()
	}
	b, ok := est.(booster)
	if !ok {
		return nil, fmt.Errorf("lightgbm estimator %T does not fit matrices", est)
	}
	if ps, ok := est.(paramSetter); ok {
		err := ps.SetParams(map[string]interface{}{
			"n_estimators":  g.NEstimators,
			"learning_rate": g.LearningRate,
			"max_depth":     g.MaxDepth,
			"num_leaves":    g.NumLeaves,
		})
		if err != nil {
			return nil, fmt.Errorf("lightgbm params: %w", err)
		}
	}
	return b, nil
}

func (g *GradientBoosting) train(X [][]float64, y []float64) (booster, error) {
	b, err := g.newBooster()
	if err != nil {
		return nil, err
	}
	if err := b.Fit(denseOf(X), columnOf(y)); err != nil {
		return nil, fmt.Errorf("lightgbm fit: %w", err)
	}
	return b, nil
}

// Fit 拟合
func (g *GradientBoosting) Fit(X [][]float64, y []float64) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	if g.Task == TaskClassification {
		g.NClasses = numClasses(y, g.NClasses)
	}
	b, err := g.train(X, y)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.booster = b
	g.NFeatures = len(X[0])
	g.TrainX, g.TrainY = X, y
	return nil
}

// fitted returns the booster, retraining it from the stored data after decoding
func (g *GradientBoosting) fitted() (booster, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.booster != nil {
		return g.booster, nil
	}
	if g.TrainX == nil {
		return nil, ErrNotFitted
	}
	b, err := g.train(g.TrainX, g.TrainY)
	if err != nil {
		return nil, err
	}
	g.booster = b
	return b, nil
}

// PredictProba 类别概率
func (g *GradientBoosting) PredictProba(X [][]float64) ([][]float64, error) {
	if g.Task != TaskClassification {
		return nil, errors.New("probabilities are only available for classification")
	}
	b, err := g.fitted()
	if err != nil {
		return nil, err
	}
	if err := checkX(X, g.NFeatures); err != nil {
		return nil, err
	}
	pb, ok := b.(probaBooster)
	if !ok {
		return nil, errors.New("lightgbm classifier has no probabilities")
	}
	out, err := pb.PredictProba(denseOf(X))
	if err != nil {
		return nil, fmt.Errorf("lightgbm predict_proba: %w", err)
	}
	proba := rowsOf(out)
	for i, row := range proba {
		// 二分类只返回正类概率时补全
		if len(row) == 1 {
			proba[i] = []float64{1 - row[0], row[0]}
		}
	}
	return PadProba(proba, g.NClasses), nil
}

// Predict 预测
func (g *GradientBoosting) Predict(X [][]float64) ([]float64, error) {
	if g.Task == TaskClassification {
		proba, err := g.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return LabelsFromProba(proba), nil
	}
	b, err := g.fitted()
	if err != nil {
		return nil, err
	}
	if err := checkX(X, g.NFeatures); err != nil {
		return nil, err
	}
	out, err := b.Predict(denseOf(X))
	if err != nil {
		return nil, fmt.Errorf("lightgbm predict: %w", err)
	}
	return firstColumn(out), nil
}

// GetParams 获取参数
func (g *GradientBoosting) GetParams() Params {
	return Params{
		"n_estimators":  float64(g.NEstimators),
		"learning_rate": g.LearningRate,
		"max_depth":     float64(g.MaxDepth),
		"num_leaves":    float64(g.NumLeaves),
	}
}
