package preprocessing

import (
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// 座標ブロックの列の並び。
const (
	CoordPickupLongitude = iota
	CoordPickupLatitude
	CoordDropoffLongitude
	CoordDropoffLatitude
	numCoords
)

// MinMaxScaler は各列を [DataMin, DataMax] から FeatureRange へ写すアフィン変換です。
//
// 範囲はデータから推定せず作成時に固定するため Fit はありません。
// 範囲外の値はそのまま線形に外挿されます（クリップはバケット化側で行います）。
type MinMaxScaler struct {
	// DataMin, DataMax は各列の元の範囲
	DataMin []float64
	DataMax []float64

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler は列ごとの固定範囲からスケーラーを作成します。
//
//	s, err := preprocessing.NewMinMaxScaler([]float64{-78}, []float64{-70}, [2]float64{0, 1})
//	scaled, err := s.Transform(X)
func NewMinMaxScaler(dataMin, dataMax []float64, featureRange [2]float64) (*MinMaxScaler, error) {
	if len(dataMin) == 0 {
		return nil, errors.NewValidationError("data_min", "must not be empty", dataMin)
	}
	if len(dataMax) != len(dataMin) {
		return nil, errors.NewDimensionError("NewMinMaxScaler", len(dataMin), len(dataMax), 1)
	}
	for j := range dataMin {
		if !(dataMax[j] > dataMin[j]) {
			return nil, errors.NewValidationError("data_max", "must exceed data_min in every column", dataMax[j])
		}
	}
	if !(featureRange[1] > featureRange[0]) {
		return nil, errors.NewValidationError("feature_range", "max must exceed min", featureRange)
	}
	return &MinMaxScaler{
		DataMin:      append([]float64(nil), dataMin...),
		DataMax:      append([]float64(nil), dataMax...),
		FeatureRange: featureRange,
	}, nil
}

// NFeatures returns the number of columns the scaler expects.
func (m *MinMaxScaler) NFeatures() int { return len(m.DataMin) }

// TransformValue は列 j の値 x を変換します。
func (m *MinMaxScaler) TransformValue(j int, x float64) float64 {
	return (x-m.DataMin[j])/(m.DataMax[j]-m.DataMin[j])*(m.FeatureRange[1]-m.FeatureRange[0]) + m.FeatureRange[0]
}

// Transform は X の各要素を列ごとに変換した新しい行列を返します。
func (m *MinMaxScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if r == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if c != m.NFeatures() {
		return nil, errors.NewDimensionError("MinMaxScaler.Transform", m.NFeatures(), c, 1)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 { return m.TransformValue(j, v) }, X)
	return out, nil
}

// CoordinateScaler は座標ブロック（Coord* の列順）を対象地域の範囲から [0, 1] に写します。
// 経度は [-78, -70]、緯度は [37, 45] です。
var CoordinateScaler = newCoordinateScaler()

func newCoordinateScaler() *MinMaxScaler {
	lonMin, latMin := -LongitudeOffset, LatitudeOffset
	lonMax, latMax := lonMin+CoordinateScale, latMin+CoordinateScale
	s, err := NewMinMaxScaler(
		[]float64{lonMin, latMin, lonMin, latMin},
		[]float64{lonMax, latMax, lonMax, latMax},
		[2]float64{0, 1},
	)
	if err != nil {
		panic(err)
	}
	return s
}
