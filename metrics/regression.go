// Package metrics は回帰モデルの評価指標を提供します。
//
// 評価はバッチ単位で Accumulator に正解と予測を溜め、エポック末に
// MSE / RMSE / MAE / R² を確定させます。評価データ1行あたり 16 バイトを保持します。
package metrics

import (
	"math"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	diff := mat.NewVecDense(n, nil)
	diff.SubVec(yTrue, yPred)
	return mat.Dot(diff, diff) / float64(n), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// L1距離 = Σ|yTrue - yPred|
	return floats.Distance(mat.Col(nil, 0, yTrue), mat.Col(nil, 0, yPred), 1) / float64(n), nil
}

// R2Score は決定係数（R²）を計算する
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	yMean := mat.Sum(yTrue) / float64(n)

	var tss, rss float64
	for i := 0; i < n; i++ {
		t, p := yTrue.AtVec(i), yPred.AtVec(i)
		tss += (t - yMean) * (t - yMean)
		rss += (t - p) * (t - p)
	}

	// 全変動が0の場合（すべてのyTrueが同じ値）
	if tss == 0 {
		return 0, errors.Newf("R2Score: total sum of squares is zero (no variance in yTrue)")
	}
	return 1 - rss/tss, nil
}

// Regression はひとつの評価パスの結果です。
type Regression struct {
	MSE     float64
	RMSE    float64
	MAE     float64
	R2      float64 // 正解が定数のときは 0
	Samples int
}

// Accumulator はバッチごとの予測と正解を保持し、Result で MSE / RMSE / MAE / R² を
// まとめて計算します。ゼロ値のまま使えます。並行利用は想定していません。
type Accumulator struct {
	yTrue []float64
	yPred []float64
}

// Add は1バッチ分の正解と予測を積算します。
func (a *Accumulator) Add(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return errors.NewDimensionError("Accumulator.Add", len(yTrue), len(yPred), 0)
	}
	a.yTrue = append(a.yTrue, yTrue...)
	a.yPred = append(a.yPred, yPred...)
	return nil
}

// Samples は積算済みのサンプル数を返します。
func (a *Accumulator) Samples() int { return len(a.yTrue) }

// Result は積算結果を確定させます。サンプルが無い場合は ErrEmptyData を返します。
func (a *Accumulator) Result() (Regression, error) {
	n := len(a.yTrue)
	if n == 0 {
		return Regression{}, errors.WithStack(errors.ErrEmptyData)
	}
	yTrue := mat.NewVecDense(n, a.yTrue)
	yPred := mat.NewVecDense(n, a.yPred)

	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	mae, err := MAE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	r2, err := R2Score(yTrue, yPred)
	if err != nil {
		r2 = 0
	}
	return Regression{
		MSE:     mse,
		RMSE:    math.Sqrt(mse),
		MAE:     mae,
		R2:      r2,
		Samples: n,
	}, nil
}

// Reset は積算をゼロに戻します。
func (a *Accumulator) Reset() { *a = Accumulator{} }
