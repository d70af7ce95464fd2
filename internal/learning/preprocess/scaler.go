package preprocess

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/scigo/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// fitStandardScale 在训练列上拟合 scigo StandardScaler, 返回它学到的均值和尺度.
// 编码器只保存这两个数, 重放时 (v-mean)/scale 与 scaler.Transform 一致.
func fitStandardScale(vals []float64) (mean, scale float64, err error) {
	scaler := preprocessing.NewStandardScaler(true, true)
	if err := scaler.Fit(mat.NewDense(len(vals), 1, vals)); err != nil {
		return 0, 0, fmt.Errorf("standard scaler fit: %w", err)
	}
	// 0 和 1 两个参考点的变换结果确定仿射参数
	ref, err := scaler.Transform(mat.NewDense(2, 1, []float64{0, 1}))
	if err != nil {
		return 0, 0, fmt.Errorf("standard scaler transform: %w", err)
	}
	t0, t1 := ref.At(0, 0), ref.At(1, 0)
	if t1 == t0 || math.IsNaN(t0) || math.IsNaN(t1) {
		return 0, 0, fmt.Errorf("standard scaler produced a degenerate scale")
	}
	scale = 1 / (t1 - t0)
	return -t0 * scale, scale, nil
}
