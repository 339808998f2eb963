package regressor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyDataset 表示训练集为空。
	ErrEmptyDataset = errors.New("regressor: empty dataset")
	// ErrShapeMismatch 表示特征与标签数量或维度不一致。
	ErrShapeMismatch = errors.New("regressor: shape mismatch")
)

// Model 为已拟合的回归模型。
type Model interface {
	Predict(x []float64) float64
}

// Regressor 为可替换的监督回归后端，只要求 Fit/Predict 能力。
type Regressor interface {
	Fit(X [][]float64, y []float64) (Model, error)
}

// RSquared 计算模型在给定数据上的决定系数。
func RSquared(m Model, X [][]float64, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	mean := stat.Mean(y, nil)
	var ssRes, ssTot float64
	for i, row := range X {
		diff := y[i] - m.Predict(row)
		ssRes += diff * diff
		dev := y[i] - mean
		ssTot += dev * dev
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func checkShape(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d 行特征对应 %d 个标签", ErrShapeMismatch, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: 特征维度为 0", ErrShapeMismatch)
	}
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: 第 %d 行维度 %d，期望 %d", ErrShapeMismatch, i, len(row), width)
		}
	}
	return width, nil
}
