// Package neural は特徴量パイプラインの上に載る全結合回帰モデルを提供します。
//
// 構造は固定です:
//
//	pickup_and_dropoff ─► 埋め込み (n⁴ × 10) ─┐
//	スカラー特徴量 6 個 ────────────────────────┴─► 連結 (16) ─► Dense+ReLU × k ─► Dense (1)
//
// 損失は MSE、最適化は Adam です。埋め込みテーブルはバッチに現れた行だけを更新します。
package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EmbeddingInitRange は埋め込みの一様分布初期化の幅 [-r, r] です。
const EmbeddingInitRange = 0.05

// Embedding は離散 id から密ベクトルを引く学習可能なテーブルです。
type Embedding struct {
	Rows, Dim int
	Weights   *mat.Dense
}

func newEmbedding(rows, dim int, rng *rand.Rand) *Embedding {
	data := make([]float64, rows*dim)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * EmbeddingInitRange
	}
	return &Embedding{Rows: rows, Dim: dim, Weights: mat.NewDense(rows, dim, data)}
}

// Row は id 行のベクトルを返します（コピーではありません）。
func (e *Embedding) Row(id int) []float64 {
	return e.Weights.RawRowView(id)
}

// Dense は全結合層 y = xW + b です。ReLU が true なら活性化を適用します。
type Dense struct {
	In, Out int
	W       *mat.Dense // In × Out
	B       []float64
	ReLU    bool
}

// newDense は Glorot 一様分布で重みを、ゼロでバイアスを初期化します。
func newDense(in, out int, relu bool, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return &Dense{
		In:   in,
		Out:  out,
		W:    mat.NewDense(in, out, data),
		B:    make([]float64, out),
		ReLU: relu,
	}
}

// forward returns the pre-activation and the activation for x (n × In).
func (d *Dense) forward(x *mat.Dense) (pre, act *mat.Dense) {
	n, _ := x.Dims()
	pre = mat.NewDense(n, d.Out, nil)
	pre.Mul(x, d.W)
	for i := 0; i < n; i++ {
		floats.Add(pre.RawRowView(i), d.B)
	}
	if !d.ReLU {
		return pre, pre
	}
	act = mat.NewDense(n, d.Out, nil)
	act.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, pre)
	return pre, act
}

// backward は上流勾配 dAct から重み・バイアスの勾配と入力側の勾配を計算します。
func (d *Dense) backward(x, pre, dAct *mat.Dense) (gradW *mat.Dense, gradB []float64, dx *mat.Dense) {
	n, _ := x.Dims()

	dPre := dAct
	if d.ReLU {
		dPre = mat.NewDense(n, d.Out, nil)
		dPre.Apply(func(i, j int, g float64) float64 {
			if pre.At(i, j) > 0 {
				return g
			}
			return 0
		}, dAct)
	}

	gradW = mat.NewDense(d.In, d.Out, nil)
	gradW.Mul(x.T(), dPre)

	gradB = make([]float64, d.Out)
	for i := 0; i < n; i++ {
		floats.Add(gradB, dPre.RawRowView(i))
	}

	dx = mat.NewDense(n, d.In, nil)
	dx.Mul(dPre, d.W.T())
	return gradW, gradB, dx
}
