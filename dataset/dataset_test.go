package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "fare_amount,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count,key"

func writeShard(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// row builds a valid line whose fare encodes i so rows can be identified.
func row(i int) string {
	return fmt.Sprintf("%d,2013-01-01 00:00:00 UTC,-73.99,40.75,-73.98,40.76,1,k%d", i, i)
}

func drain(t *testing.T, it *Iterator) []*Batch {
	t.Helper()
	var out []*Batch
	for {
		b, err := it.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func fares(batches []*Batch) []float64 {
	var out []float64
	for _, b := range batches {
		out = append(out, b.Labels...)
	}
	return out
}

func TestParseRecord(t *testing.T) {
	fields := strings.Split("12.5,2013-01-01 00:00:00 UTC,-73.99,40.75,-73.98,40.76,2,abc", ",")
	rec, err := ParseRecord("f.csv", 3, fields)
	require.NoError(t, err)
	assert.Equal(t, RawRecord{
		FareAmount:       12.5,
		PickupDatetime:   "2013-01-01 00:00:00 UTC",
		PickupLongitude:  -73.99,
		PickupLatitude:   40.75,
		DropoffLongitude: -73.98,
		DropoffLatitude:  40.76,
		PassengerCount:   2,
		Key:              "abc",
	}, rec)
}

func TestParseRecordDefaults(t *testing.T) {
	rec, err := ParseRecord("f.csv", 1, []string{"", "", "-73.9", "40.7", "", "", "", ""})
	require.NoError(t, err)
	assert.Equal(t, DefaultFloat, rec.FareAmount)
	assert.Equal(t, DefaultString, rec.PickupDatetime)
	assert.Equal(t, DefaultString, rec.Key)
	assert.Equal(t, DefaultFloat, rec.PassengerCount)
}

func TestParseRecordErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		column string
	}{
		{"too few columns", []string{"1", "x", "2"}, ""},
		{"too many columns", strings.Split(row(1)+",extra", ","), ""},
		{"non numeric longitude", []string{"1", "d", "west", "40", "-73", "40", "1", "k"}, ColPickupLongitude},
		{"NaN fare", []string{"NaN", "d", "-73", "40", "-73", "40", "1", "k"}, ColFareAmount},
		{"infinite passengers", []string{"1", "d", "-73", "40", "-73", "40", "+Inf", "k"}, ColPassengerCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord("shard.csv", 7, tt.fields)
			var pErr *errors.ParseError
			require.True(t, errors.As(err, &pErr), "got %v", err)
			assert.Equal(t, "shard.csv", pErr.File)
			assert.Equal(t, 7, pErr.Line)
			assert.Equal(t, tt.column, pErr.Column)
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "b/taxi-valid-0001.csv", row(1))
	writeShard(t, dir, "a/taxi-valid-0000.csv", row(0))
	writeShard(t, dir, "a/taxi-train-0000.csv", row(2))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "taxi-valid-dir.csv"), 0o755))

	got, err := Resolve(filepath.Join(dir, "**", "taxi-valid*"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", "taxi-valid-0000.csv"),
		filepath.Join(dir, "b", "taxi-valid-0001.csv"),
	}, got)
	assert.True(t, sort.StringsAreSorted(got))

	_, err = Resolve(filepath.Join(dir, "nothing-*.csv"))
	assert.True(t, errors.Is(err, errors.ErrNoShards))

	_, err = Resolve(filepath.Join(dir, "missing-dir", "*.csv"))
	assert.True(t, errors.Is(err, errors.ErrNoShards))

	var vErr *errors.ValidationError
	_, err = Resolve("")
	assert.True(t, errors.As(err, &vErr))
}

func TestEvalLoaderSinglePassInOrder(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "valid-0.csv", header, row(0), row(1), row(2))
	writeShard(t, dir, "valid-1.csv", row(3), row(4))

	l := EvalLoader(filepath.Join(dir, "valid-*.csv"), 2)
	for pass := 0; pass < 2; pass++ {
		it, err := l.Iterate(context.Background())
		require.NoError(t, err)
		batches := drain(t, it)
		require.NoError(t, it.Close())

		require.Len(t, batches, 3)
		assert.Equal(t, []int{2, 2, 1}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
		assert.Equal(t, []float64{0, 1, 2, 3, 4}, fares(batches), "pass %d", pass)
	}
}

func TestTrainLoaderRepeatsAndIsSeeded(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "train-0.csv", row(0), row(1), row(2), row(3))
	writeShard(t, dir, "train-1.csv", row(4), row(5), row(6))

	take := func(seed int64, n int) []float64 {
		l := TrainLoader(filepath.Join(dir, "train-*.csv"), 3, seed)
		it, err := l.Iterate(context.Background())
		require.NoError(t, err)
		defer it.Close()
		var out []float64
		for len(out) < n {
			b, err := it.Next(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 3, b.Len())
			out = append(out, b.Labels...)
		}
		return out
	}

	a := take(42, 21)
	b := take(42, 21)
	assert.Equal(t, a, b, "same seed must yield the same order")

	// 21 rows need four passes over seven rows, so no row can appear more than four times
	counts := map[float64]int{}
	for _, v := range a {
		counts[v]++
	}
	for v, n := range counts {
		assert.True(t, v >= 0 && v < 7, "unexpected row %v", v)
		assert.LessOrEqual(t, n, 4, "row %v", v)
	}

	c := take(7, 21)
	assert.NotEqual(t, a, c)
}

func TestLoaderParseErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "bad.csv", row(0), "1,d,-73,40,-73,40,1", row(2))

	it, err := EvalLoader(filepath.Join(dir, "bad.csv"), 1).Iterate(context.Background())
	require.NoError(t, err)
	defer it.Close()

	b, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, b.Labels)

	_, err = it.Next(context.Background())
	var pErr *errors.ParseError
	require.True(t, errors.As(err, &pErr), "got %v", err)
	assert.Equal(t, 2, pErr.Line)

	// the error is sticky
	_, err = it.Next(context.Background())
	assert.True(t, errors.As(err, &pErr))
}

func TestLoaderHeaderOnlyIsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "empty.csv", header)

	it, err := EvalLoader(filepath.Join(dir, "empty.csv"), 4).Iterate(context.Background())
	require.NoError(t, err)
	defer it.Close()
	_, err = it.Next(context.Background())
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestIteratorCloseStopsProducer(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "train.csv", row(0), row(1))

	it, err := TrainLoader(filepath.Join(dir, "train.csv"), 1, 1).Iterate(context.Background())
	require.NoError(t, err)
	_, err = it.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	_, err = it.Next(context.Background())
	assert.Error(t, err)
}

func TestIteratorCloseWhileFillingShuffleBuffer(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 3*ctxCheckInterval+1)
	for i := 0; i < 3*ctxCheckInterval; i++ {
		lines = append(lines, row(i))
	}
	// 最後まで読めば ParseError になる
	lines = append(lines, "1,d,west,40,-73,40,1,k")
	writeShard(t, dir, "train.csv", lines...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := TrainLoader(filepath.Join(dir, "train.csv"), 8, 1).Iterate(ctx)
	require.NoError(t, err)

	// 行はすべてシャッフルバッファに入るので送信は起きない。
	// キャンセルはバッファを満たす途中で検出される
	assert.NoError(t, it.Close())
	_, err = it.Next(context.Background())
	assert.Error(t, err)
	var parseErr *errors.ParseError
	assert.False(t, errors.As(err, &parseErr), "reader stopped before the malformed row: %v", err)
}

func TestLoaderValidate(t *testing.T) {
	tests := []struct {
		name   string
		loader Loader
		param  string
	}{
		{"empty pattern", Loader{BatchSize: 1, NumRepeat: 1}, "pattern"},
		{"zero batch", Loader{Pattern: "x", NumRepeat: 1}, "batch_size"},
		{"zero repeat", Loader{Pattern: "x", BatchSize: 1}, "num_repeat"},
		{"negative buffer", Loader{Pattern: "x", BatchSize: 1, NumRepeat: 1, ShuffleBuffer: -1}, "shuffle_buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vErr *errors.ValidationError
			require.True(t, errors.As(tt.loader.Validate(), &vErr))
			assert.Equal(t, tt.param, vErr.ParamName)
		})
	}
}

func TestBatchAdd(t *testing.T) {
	b := newBatch(2)
	assert.Equal(t, 0, b.Len())
	b.add(RawRecord{FareAmount: 5, PickupLongitude: -73.9, PassengerCount: 2, Key: "a"})
	b.add(RawRecord{FareAmount: 7, PassengerCount: 1})

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []float64{5, 7}, b.Labels)
	assert.Equal(t, "a", b.Records[0].Key)

	var nilBatch *Batch
	assert.Equal(t, 0, nilBatch.Len())
}
