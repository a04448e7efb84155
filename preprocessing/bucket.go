package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Boundaries は [0, 1] を等間隔に区切る n 個の境界（両端を含む）を返します。
func Boundaries(n int) ([]float64, error) {
	if n < 2 {
		return nil, errors.NewValidationError("nbuckets", "must be at least 2", n)
	}
	return floats.Span(make([]float64, n), 0, 1), nil
}

// Bucketize は x が属するビンの番号を返します。
//
// 番号は「x 以下の境界の数 - 1」を [0, len(boundaries)) に丸めたものです。
// 0.0 は最初のビン、1.0 は最後のビン、範囲外の値は端のビンに入ります。
func Bucketize(x float64, boundaries []float64) int {
	n := len(boundaries)
	if n == 0 {
		return 0
	}
	// boundaries[i] <= x となる個数
	count := sort.Search(n, func(i int) bool { return boundaries[i] > x })
	return errors.ClipInt(count-1, 0, n-1)
}
