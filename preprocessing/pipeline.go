package preprocessing

import (
	"strconv"

	"github.com/YuminosukeSato/taxifare/core/parallel"
	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// 特徴量の名前。
const (
	FeatureEuclidean        = "euclidean"
	FeaturePickupAndDropoff = "pickup_and_dropoff"
)

const (
	// EmbeddingDim は pickup_and_dropoff の埋め込み次元です。
	EmbeddingDim = 10

	// MaxNBuckets は n⁴ 行の埋め込みテーブルが 2²⁴ 行を超えない最大の n です。
	MaxNBuckets = 64

	// parallelThreshold 未満の行数のバッチは逐次変換する
	parallelThreshold = 4096
)

// ScalarColumns はスカラー特徴量の並び（名前順）です。
var ScalarColumns = []string{
	dataset.ColDropoffLatitude,
	dataset.ColDropoffLongitude,
	FeatureEuclidean,
	dataset.ColPassengerCount,
	dataset.ColPickupLatitude,
	dataset.ColPickupLongitude,
}

// EmbeddingOffset はモデル入力ベクトル内で埋め込みが始まる位置です。
// 名前順で pickup_and_dropoff は passenger_count と pickup_latitude の間に入ります。
const EmbeddingOffset = 4

// InputWidth はモデル入力ベクトルの幅（スカラー 6 + 埋め込み 10）です。
const InputWidth = 6 + EmbeddingDim

// FeatureVector は1行分の変換結果です。
type FeatureVector struct {
	PickupLongitude  float64 // スケール済み
	PickupLatitude   float64
	DropoffLongitude float64
	DropoffLatitude  float64
	Euclidean        float64
	PassengerCount   float64

	// バケット番号 [0, n)
	PickupLonBucket, PickupLatBucket   int
	DropoffLonBucket, DropoffLatBucket int

	PickupCross      int // [0, n²)
	DropoffCross     int // [0, n²)
	PickupAndDropoff int // [0, n⁴)、埋め込みテーブルの行
}

// Scalars は ScalarColumns の順にスカラー特徴量を返します。
func (f FeatureVector) Scalars() []float64 {
	return []float64{
		f.DropoffLatitude,
		f.DropoffLongitude,
		f.Euclidean,
		f.PassengerCount,
		f.PickupLatitude,
		f.PickupLongitude,
	}
}

// Named は特徴量名 → 値の対応を返します。pickup_and_dropoff は埋め込み前の id です。
func (f FeatureVector) Named() map[string]float64 {
	out := make(map[string]float64, len(ScalarColumns)+1)
	for i, v := range f.Scalars() {
		out[ScalarColumns[i]] = v
	}
	out[FeaturePickupAndDropoff] = float64(f.PickupAndDropoff)
	return out
}

// Concat はスカラー特徴量と埋め込みベクトルを入力ベクトルの順序で dst に書き込みます。
// dst は InputWidth 以上の長さが必要です。
func Concat(dst, scalars, embedding []float64) {
	copy(dst[:EmbeddingOffset], scalars[:EmbeddingOffset])
	copy(dst[EmbeddingOffset:EmbeddingOffset+EmbeddingDim], embedding)
	copy(dst[EmbeddingOffset+EmbeddingDim:InputWidth], scalars[EmbeddingOffset:])
}

// FeatureOrder は入力ベクトルの各位置の名前を返します。
func FeatureOrder() []string {
	order := make([]string, 0, InputWidth)
	order = append(order, ScalarColumns[:EmbeddingOffset]...)
	for i := 0; i < EmbeddingDim; i++ {
		order = append(order, FeaturePickupAndDropoff+"["+strconv.Itoa(i)+"]")
	}
	return append(order, ScalarColumns[EmbeddingOffset:]...)
}

// Option はパイプラインの設定を変更します。
type Option func(*Pipeline)

// WithCrosser はクロスに使う関数を差し替えます。
func WithCrosser(c Crosser) Option {
	return func(p *Pipeline) {
		p.crosser = c
	}
}

// Pipeline は (RawRecord, nbuckets) → FeatureVector の変換です。
// 作成後は不変で、複数のゴルーチンから同時に使えます。
type Pipeline struct {
	nbuckets   int
	boundaries []float64
	crosser    Crosser
}

// NewPipeline は nbuckets 個の境界を持つパイプラインを作成します。
func NewPipeline(nbuckets int, opts ...Option) (*Pipeline, error) {
	if nbuckets > MaxNBuckets {
		return nil, errors.NewValidationError("nbuckets", "embedding table would exceed 2^24 rows", nbuckets)
	}
	boundaries, err := Boundaries(nbuckets)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		nbuckets:   nbuckets,
		boundaries: boundaries,
		crosser:    DefaultCrosser,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NBuckets returns the number of bucket boundaries per coordinate.
func (p *Pipeline) NBuckets() int { return p.nbuckets }

// Crosser returns the crossing function in use.
func (p *Pipeline) Crosser() Crosser { return p.crosser }

// Transform は1行を変換します。
func (p *Pipeline) Transform(r dataset.RawRecord) FeatureVector {
	coords := coordinates(r)
	for j, v := range coords {
		coords[j] = CoordinateScaler.TransformValue(j, v)
	}
	return p.fromScaled(r, coords[:])
}

// coordinates は座標ブロックの1行を Coord* の列順で返します。
func coordinates(r dataset.RawRecord) [numCoords]float64 {
	return [numCoords]float64{
		CoordPickupLongitude:  r.PickupLongitude,
		CoordPickupLatitude:   r.PickupLatitude,
		CoordDropoffLongitude: r.DropoffLongitude,
		CoordDropoffLatitude:  r.DropoffLatitude,
	}
}

// fromScaled はスケール済み座標 scaled から残りの特徴量を組み立てます。
func (p *Pipeline) fromScaled(r dataset.RawRecord, scaled []float64) FeatureVector {
	f := FeatureVector{
		PickupLongitude:  scaled[CoordPickupLongitude],
		PickupLatitude:   scaled[CoordPickupLatitude],
		DropoffLongitude: scaled[CoordDropoffLongitude],
		DropoffLatitude:  scaled[CoordDropoffLatitude],
		Euclidean:        Euclidean(r.PickupLongitude, r.PickupLatitude, r.DropoffLongitude, r.DropoffLatitude),
		PassengerCount:   r.PassengerCount,
	}

	f.PickupLonBucket = Bucketize(f.PickupLongitude, p.boundaries)
	f.PickupLatBucket = Bucketize(f.PickupLatitude, p.boundaries)
	f.DropoffLonBucket = Bucketize(f.DropoffLongitude, p.boundaries)
	f.DropoffLatBucket = Bucketize(f.DropoffLatitude, p.boundaries)

	f.PickupCross = CrossLocation(p.crosser, f.PickupLonBucket, f.PickupLatBucket, p.nbuckets)
	f.DropoffCross = CrossLocation(p.crosser, f.DropoffLonBucket, f.DropoffLatBucket, p.nbuckets)
	f.PickupAndDropoff = CrossPair(p.crosser, f.PickupCross, f.DropoffCross, p.nbuckets)
	return f
}

// Transformed はバッチの変換結果です。
type Transformed struct {
	Scalars  *mat.Dense // 行数 × len(ScalarColumns)
	CrossIDs []int      // 各行の pickup_and_dropoff
}

// Rows returns the number of transformed rows.
func (t *Transformed) Rows() int { return len(t.CrossIDs) }

// TransformRecords は複数行を変換します。大きなバッチは行ごとに並列化します。
func (p *Pipeline) TransformRecords(records []dataset.RawRecord) (*Transformed, error) {
	if len(records) == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}

	// 座標ブロックはまとめてスケーリングする
	raw := mat.NewDense(len(records), numCoords, nil)
	for i, r := range records {
		c := coordinates(r)
		raw.SetRow(i, c[:])
	}
	scaled, err := CoordinateScaler.Transform(raw)
	if err != nil {
		return nil, err
	}

	out := &Transformed{
		Scalars:  mat.NewDense(len(records), len(ScalarColumns), nil),
		CrossIDs: make([]int, len(records)),
	}
	parallel.ParallelizeWithThreshold(len(records), parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			f := p.fromScaled(records[i], scaled.RawRowView(i))
			out.Scalars.SetRow(i, f.Scalars())
			out.CrossIDs[i] = f.PickupAndDropoff
		}
	})
	return out, nil
}

// TransformBatch はバッチを変換します。
func (p *Pipeline) TransformBatch(b *dataset.Batch) (*Transformed, error) {
	if b == nil {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	return p.TransformRecords(b.Records)
}

// Description はパイプラインの構造です。
type Description struct {
	NBuckets       int       `json:"nbuckets"`
	Boundaries     []float64 `json:"boundaries"`
	LocationSpace  int       `json:"location_space"`
	PairSpace      int       `json:"pair_space"`
	EmbeddingShape [2]int    `json:"embedding_shape"`
	InputWidth     int       `json:"input_width"`
	Crosser        string    `json:"crosser"`
}

// Describe はパイプラインの構造を返します。
func (p *Pipeline) Describe() Description {
	return Description{
		NBuckets:       p.nbuckets,
		Boundaries:     append([]float64(nil), p.boundaries...),
		LocationSpace:  LocationSpace(p.nbuckets),
		PairSpace:      PairSpace(p.nbuckets),
		EmbeddingShape: [2]int{PairSpace(p.nbuckets), EmbeddingDim},
		InputWidth:     InputWidth,
		Crosser:        p.crosser.Name(),
	}
}
