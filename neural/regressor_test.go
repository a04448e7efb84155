package neural

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/metrics"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
	"github.com/YuminosukeSato/taxifare/preprocessing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// synthetic returns rows whose fare grows linearly with trip distance.
func synthetic(n int, seed int64) *dataset.Batch {
	rng := rand.New(rand.NewSource(seed))
	b := &dataset.Batch{}
	for i := 0; i < n; i++ {
		r := dataset.RawRecord{
			PickupLongitude:  -74.0 + 0.3*rng.Float64(),
			PickupLatitude:   40.6 + 0.3*rng.Float64(),
			DropoffLongitude: -74.0 + 0.3*rng.Float64(),
			DropoffLatitude:  40.6 + 0.3*rng.Float64(),
			PassengerCount:   float64(1 + rng.Intn(4)),
		}
		r.FareAmount = 2.5 + 40*preprocessing.Euclidean(r.PickupLongitude, r.PickupLatitude, r.DropoffLongitude, r.DropoffLatitude)
		b.Records = append(b.Records, r)
		b.Labels = append(b.Labels, r.FareAmount)
	}
	return b
}

func TestBuildTopology(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelInfo)
	r, err := Build(5, []int{32, 8}, 0.01, WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, 625, r.Embedding().Rows)
	assert.Equal(t, 10, r.Embedding().Dim)
	rows, cols := r.Embedding().Weights.Dims()
	assert.Equal(t, [2]int{625, 10}, [2]int{rows, cols})

	layers := r.Layers()
	require.Len(t, layers, 3)
	assert.Equal(t, [3]int{16, 32, 1}, [3]int{layers[0].In, layers[0].Out, boolInt(layers[0].ReLU)})
	assert.Equal(t, [3]int{32, 8, 1}, [3]int{layers[1].In, layers[1].Out, boolInt(layers[1].ReLU)})
	assert.Equal(t, [3]int{8, 1, 0}, [3]int{layers[2].In, layers[2].Out, boolInt(layers[2].ReLU)})

	for _, v := range r.Embedding().Weights.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(v), EmbeddingInitRange)
	}
	limit := math.Sqrt(6.0 / float64(16+32))
	for _, v := range layers[0].W.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(v), limit)
	}
	assert.Equal(t, make([]float64, 32), layers[0].B)

	assert.True(t, logger.ContainsMessage("Model built"))
	assert.True(t, logger.ContainsField(log.NBucketsKey, float64(5)))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name     string
		nbuckets int
		hidden   []int
		lr       float64
		param    string
	}{
		{"one bucket", 1, []int{8}, 0.1, "nbuckets"},
		{"too many buckets", preprocessing.MaxNBuckets + 1, []int{8}, 0.1, "nbuckets"},
		{"no layers", 4, nil, 0.1, "hidden_layer_sizes"},
		{"zero width", 4, []int{8, 0}, 0.1, "hidden_layer_sizes[1]"},
		{"zero lr", 4, []int{8}, 0, "learning_rate"},
		{"NaN lr", 4, []int{8}, math.NaN(), "learning_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.nbuckets, tt.hidden, tt.lr)
			var vErr *errors.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.param, vErr.ParamName)
		})
	}
}

func TestBuildIsSeeded(t *testing.T) {
	a, err := Build(4, []int{8}, 0.01, WithSeed(11))
	require.NoError(t, err)
	b, err := Build(4, []int{8}, 0.01, WithSeed(11))
	require.NoError(t, err)
	c, err := Build(4, []int{8}, 0.01, WithSeed(12))
	require.NoError(t, err)

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.NotEqual(t, a.Snapshot().Embedding, c.Snapshot().Embedding)

	batch := synthetic(32, 1)
	for i := 0; i < 5; i++ {
		la, err := a.TrainBatch(batch)
		require.NoError(t, err)
		lb, err := b.TrainBatch(batch)
		require.NoError(t, err)
		assert.Equal(t, la, lb)
	}
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

// The analytic dense-layer gradient matches central finite differences.
func TestDenseBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	d := newDense(4, 3, true, rng)
	for i := range d.B {
		d.B[i] = 0.1 * float64(i+1)
	}
	x := mat.NewDense(5, 4, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)
	upstream := mat.NewDense(5, 3, nil)
	upstream.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, upstream)

	objective := func() float64 {
		_, act := d.forward(x)
		return mat.Sum(elemMul(act, upstream))
	}

	pre, _ := d.forward(x)
	gradW, gradB, dx := d.backward(x, pre, upstream)

	const h = 1e-6
	w := d.W.RawMatrix().Data
	for i := range w {
		orig := w[i]
		w[i] = orig + h
		plus := objective()
		w[i] = orig - h
		minus := objective()
		w[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), gradW.RawMatrix().Data[i], 1e-5, "W[%d]", i)
	}
	for i := range d.B {
		orig := d.B[i]
		d.B[i] = orig + h
		plus := objective()
		d.B[i] = orig - h
		minus := objective()
		d.B[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), gradB[i], 1e-5, "B[%d]", i)
	}
	xs := x.RawMatrix().Data
	for i := range xs {
		orig := xs[i]
		xs[i] = orig + h
		plus := objective()
		xs[i] = orig - h
		minus := objective()
		xs[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), dx.RawMatrix().Data[i], 1e-5, "x[%d]", i)
	}
}

func elemMul(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

func TestTrainBatchReducesLoss(t *testing.T) {
	r, err := Build(4, []int{16, 8}, 0.05, WithSeed(3))
	require.NoError(t, err)
	batch := synthetic(64, 2)

	first, err := r.TrainBatch(batch)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 400; i++ {
		last, err = r.TrainBatch(batch)
		require.NoError(t, err)
	}
	assert.Less(t, last, first/2, "first=%v last=%v", first, last)
	assert.Equal(t, 401, r.State().GetState().GlobalStep)
	assert.Equal(t, 401*64, r.State().GetState().SamplesSeen)
}

func TestTrainBatchLossIsPreUpdateMSE(t *testing.T) {
	r, err := Build(4, []int{8}, 0.01, WithSeed(5))
	require.NoError(t, err)
	batch := synthetic(16, 9)

	pred, err := r.Predict(batch)
	require.NoError(t, err)
	want, err := metrics.MSE(mat.NewVecDense(16, batch.Labels), mat.NewVecDense(16, pred))
	require.NoError(t, err)

	loss, err := r.TrainBatch(batch)
	require.NoError(t, err)
	assert.InDelta(t, want, loss, 1e-9)

	_, err = r.TrainBatch(&dataset.Batch{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestTrainBatchUpdatesOnlySeenEmbeddingRows(t *testing.T) {
	r, err := Build(6, []int{32}, 0.01, WithSeed(9))
	require.NoError(t, err)
	batch := synthetic(4, 3)

	tr, err := r.Pipeline().TransformBatch(batch)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, id := range tr.CrossIDs {
		seen[id] = true
	}

	before := r.Snapshot().Embedding
	_, err = r.TrainBatch(batch)
	require.NoError(t, err)
	after := r.Snapshot().Embedding

	dim := r.Embedding().Dim
	for row := 0; row < r.Embedding().Rows; row++ {
		lo, hi := row*dim, (row+1)*dim
		if seen[row] {
			assert.NotEqual(t, before[lo:hi], after[lo:hi], "row %d should move", row)
		} else {
			assert.Equal(t, before[lo:hi], after[lo:hi], "row %d should not move", row)
		}
	}
}

func TestTrainBatchNonFiniteLoss(t *testing.T) {
	r, err := Build(4, []int{4}, 0.01)
	require.NoError(t, err)

	batch := synthetic(3, 4)
	batch.Labels[1] = 1e200
	before := r.Snapshot()

	_, err = r.TrainBatch(batch)
	var numErr *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &numErr), "got %v", err)
	assert.Equal(t, "train_step", numErr.Operation)
	assert.Equal(t, before, r.Snapshot(), "weights must not change")
	assert.False(t, r.State().IsFitted())
}

func TestPredictRecordsParallelMatchesSequential(t *testing.T) {
	seq, err := Build(5, []int{8, 4}, 0.01, WithSeed(1), WithWorkers(1))
	require.NoError(t, err)
	par, err := Build(5, []int{8, 4}, 0.01, WithSeed(1), WithWorkers(7))
	require.NoError(t, err)

	records := synthetic(predictThreshold*3+11, 6).Records
	a, err := seq.PredictRecords(records)
	require.NoError(t, err)
	b, err := par.PredictRecords(records)
	require.NoError(t, err)
	require.Len(t, b, len(records))
	assert.InDeltaSlice(t, a, b, 1e-12)

	// per-row prediction equals the batch prediction
	one, err := seq.PredictRecords(records[100:101])
	require.NoError(t, err)
	assert.InDelta(t, a[100], one[0], 1e-9)

	_, err = seq.PredictRecords(nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestSnapshotRestore(t *testing.T) {
	r, err := Build(4, []int{8}, 0.02, WithSeed(2))
	require.NoError(t, err)
	batch := synthetic(16, 7)
	for i := 0; i < 3; i++ {
		_, err := r.TrainBatch(batch)
		require.NoError(t, err)
	}
	snap := r.Snapshot()
	want, err := r.Predict(batch)
	require.NoError(t, err)

	fresh, err := FromSnapshot(snap)
	require.NoError(t, err)
	got, err := fresh.Predict(batch)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 3, fresh.State().GetState().GlobalStep)

	// snapshot is a copy
	snap.Embedding[0] += 1
	assert.NotEqual(t, snap.Embedding[0], r.Snapshot().Embedding[0])

	other, err := Build(5, []int{8}, 0.02)
	require.NoError(t, err)
	var vErr *errors.ValidationError
	assert.True(t, errors.As(other.Restore(r.Snapshot()), &vErr))

	deeper, err := Build(4, []int{8, 4}, 0.02)
	require.NoError(t, err)
	var dErr *errors.DimensionError
	assert.True(t, errors.As(deeper.Restore(r.Snapshot()), &dErr))

	wider, err := Build(4, []int{9}, 0.02)
	require.NoError(t, err)
	assert.True(t, errors.As(wider.Restore(r.Snapshot()), &dErr))
}

func TestExportAndLoadServable(t *testing.T) {
	fs := afero.NewMemMapFs()
	r, err := Build(3, []int{4}, 0.01, WithSeed(8))
	require.NoError(t, err)

	err = r.Export(fs, "savedmodel/1", nil)
	var mErr *errors.ModelError
	require.True(t, errors.As(err, &mErr), "export before training must fail")

	batch := synthetic(8, 9)
	_, err = r.TrainBatch(batch)
	require.NoError(t, err)
	require.NoError(t, r.Export(fs, "savedmodel/1", map[string]interface{}{"rmse": 3.5}))

	for _, f := range []string{ManifestFile, VariablesFile} {
		ok, err := afero.Exists(fs, filepath.Join("savedmodel/1", f))
		require.NoError(t, err)
		assert.True(t, ok, f)
	}

	s, err := LoadServable(fs, "savedmodel/1")
	require.NoError(t, err)
	assert.Equal(t, ModelType, s.Manifest.ModelType)
	assert.Equal(t, []int{4}, s.Manifest.HiddenUnits)
	assert.Equal(t, dataset.InputColumns, s.Manifest.Inputs)
	assert.Equal(t, preprocessing.FeatureOrder(), s.Manifest.Features)
	assert.Equal(t, 1, s.Manifest.Training.GlobalStep)

	want, err := r.PredictRecords(batch.Records)
	require.NoError(t, err)
	got, err := s.Predict(batch.Records)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadServable(fs, "savedmodel/missing")
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	dir := t.TempDir()
	batch := synthetic(25, 10)
	var sb strings.Builder
	for _, rec := range batch.Records {
		fmt.Fprintf(&sb, "%v,2013-01-01,%v,%v,%v,%v,%v,k\n", rec.FareAmount,
			rec.PickupLongitude, rec.PickupLatitude, rec.DropoffLongitude, rec.DropoffLatitude, rec.PassengerCount)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "valid.csv"), []byte(sb.String()), 0o644))

	r, err := Build(4, []int{8}, 0.01, WithSeed(4))
	require.NoError(t, err)

	it, err := dataset.EvalLoader(filepath.Join(dir, "valid.csv"), 7).Iterate(context.Background())
	require.NoError(t, err)
	defer it.Close()

	res, err := r.Evaluate(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Samples)
	assert.InDelta(t, math.Sqrt(res.MSE), res.RMSE, 1e-12)

	pred, err := r.Predict(batch)
	require.NoError(t, err)
	var sq float64
	for i, p := range pred {
		sq += (p - batch.Labels[i]) * (p - batch.Labels[i])
	}
	assert.InDelta(t, sq/25, res.MSE, 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Evaluate(ctx, it)
	assert.ErrorIs(t, err, context.Canceled)

	// 出力層のバイアスが NaN になると全予測が NaN になる
	layers := r.Layers()
	layers[len(layers)-1].B[0] = math.NaN()
	it2, err := dataset.EvalLoader(filepath.Join(dir, "valid.csv"), 7).Iterate(context.Background())
	require.NoError(t, err)
	defer it2.Close()

	_, err = r.Evaluate(context.Background(), it2)
	var numErr *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &numErr), "got %v", err)
	assert.Equal(t, "evaluate", numErr.Operation)
	assert.Len(t, numErr.Values, 7, "first batch is reported")
}
