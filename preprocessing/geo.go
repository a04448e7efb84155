// Package preprocessing は乗車・降車座標を固定幅の特徴量ベクトルに変換します。
//
// 変換はすべて純粋関数で、状態を持ちません。
//
//	座標 ──► アフィン変換 ──► バケット化 ──► 位置クロス ──► ペアクロス ──► (モデル内の埋め込み)
//	  └────► ユークリッド距離
//
// 同じ入力と nbuckets からは常に同じ特徴量が得られます。
package preprocessing

import "math"

// 対象地域の座標範囲を [0, 1] 付近に写すための定数。
const (
	LongitudeOffset = 78.0
	LatitudeOffset  = 37.0
	CoordinateScale = 8.0
)

// ScaleLongitude は経度を (x + 78) / 8 に変換します。
// ScaleLongitude(-78) = 0, ScaleLongitude(-70) = 1。
func ScaleLongitude(x float64) float64 {
	return CoordinateScaler.TransformValue(CoordPickupLongitude, x)
}

// ScaleLatitude は緯度を (y - 37) / 8 に変換します。
// ScaleLatitude(37) = 0, ScaleLatitude(45) = 1。
func ScaleLatitude(y float64) float64 {
	return CoordinateScaler.TransformValue(CoordPickupLatitude, y)
}

// Euclidean はスケール前の座標で乗車地点と降車地点の距離を計算します。
func Euclidean(pickupLon, pickupLat, dropoffLon, dropoffLat float64) float64 {
	return math.Hypot(dropoffLon-pickupLon, dropoffLat-pickupLat)
}
