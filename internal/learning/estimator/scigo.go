package estimator

import "gonum.org/v1/gonum/mat"

// scigo 估计器以 gonum 矩阵为输入输出, 这里负责与行切片之间的转换

func denseOf(X [][]float64) *mat.Dense {
	if len(X) == 0 {
		return nil
	}
	p := len(X[0])
	data := make([]float64, 0, len(X)*p)
	for _, row := range X {
		data = append(data, row...)
	}
	return mat.NewDense(len(X), p, data)
}

func columnOf(y []float64) *mat.Dense {
	return mat.NewDense(len(y), 1, append([]float64(nil), y...))
}

func rowsOf(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func firstColumn(m mat.Matrix) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = m.At(i, 0)
	}
	return out
}
