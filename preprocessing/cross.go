package preprocessing

import (
	"encoding/binary"

	"github.com/dgryski/go-spooky"
)

// Crosser は2つの離散値を [0, space) の1つの値に結合します。
// 実装は決定的でなければなりません。
type Crosser interface {
	Cross(a, b, space int) int
	Name() string
}

// HashCrosser は (a, b) をリトルエンディアンの 16 バイトに詰め、
// SpookyHash64 の値を space で割った余りを返します。
//
// ハッシュ関数とシードは学習済みモデルの再現性の一部です。変更すると
// 既存の埋め込みテーブルとの対応が崩れます。
type HashCrosser struct {
	Seed uint64
}

// DefaultCrosser はパイプラインが既定で使う Crosser です。
var DefaultCrosser Crosser = HashCrosser{}

// Cross implements Crosser.
func (h HashCrosser) Cross(a, b, space int) int {
	if space <= 1 {
		return 0
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:], uint64(b))
	return int(spooky.Hash64Seed(buf[:], h.Seed) % uint64(space))
}

// Name implements Crosser.
func (h HashCrosser) Name() string {
	return "spooky64"
}

// LocationSpace は1地点（経度バケット × 緯度バケット）のクロス空間の大きさ n² です。
func LocationSpace(nbuckets int) int {
	return nbuckets * nbuckets
}

// PairSpace は乗車 × 降車のクロス空間の大きさ n⁴ です。
func PairSpace(nbuckets int) int {
	s := LocationSpace(nbuckets)
	return s * s
}

// CrossLocation は経度バケットと緯度バケットを [0, n²) の id に結合します。
func CrossLocation(c Crosser, lonBucket, latBucket, nbuckets int) int {
	return c.Cross(lonBucket, latBucket, LocationSpace(nbuckets))
}

// CrossPair は乗車地点と降車地点の id を [0, n⁴) の id に結合します。
func CrossPair(c Crosser, pickup, dropoff, nbuckets int) int {
	return c.Cross(pickup, dropoff, PairSpace(nbuckets))
}
