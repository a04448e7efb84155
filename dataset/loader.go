package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"math/rand"
	"os"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
	"golang.org/x/sync/errgroup"
)

const (
	// RepeatForever はシャードを無限に繰り返します（学習用）。
	RepeatForever = -1

	// DefaultShuffleBuffer は学習用シャッフルバッファの行数です。
	DefaultShuffleBuffer = 1_000_000

	// バッファを満たしている間は送信が起きないため、この行数ごとに ctx を確認する
	ctxCheckInterval = 4096
)

// Loader は読み込みの設定です。Iterate を呼ぶたびに最初から読み直す
// 新しい Iterator を返すため、評価データを各エポックで再利用できます。
type Loader struct {
	Pattern       string
	BatchSize     int
	NumRepeat     int  // RepeatForever か 1 以上
	Shuffle       bool // シャード順と行順をシャッフルする
	ShuffleBuffer int  // 行数。0 の場合は DefaultShuffleBuffer
	Seed          int64
	Logger        log.Logger
}

// TrainLoader は学習用（無限繰り返し、シャッフルあり）のローダーを作成します。
func TrainLoader(pattern string, batchSize int, seed int64) *Loader {
	return &Loader{
		Pattern:       pattern,
		BatchSize:     batchSize,
		NumRepeat:     RepeatForever,
		Shuffle:       true,
		ShuffleBuffer: DefaultShuffleBuffer,
		Seed:          seed,
	}
}

// EvalLoader は評価用（1パス、シャッフルなし）のローダーを作成します。
func EvalLoader(pattern string, batchSize int) *Loader {
	return &Loader{
		Pattern:   pattern,
		BatchSize: batchSize,
		NumRepeat: 1,
	}
}

// Validate は設定値を検証します。
func (l *Loader) Validate() error {
	if l.Pattern == "" {
		return errors.NewValidationError("pattern", "must not be empty", l.Pattern)
	}
	if l.BatchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", l.BatchSize)
	}
	if l.NumRepeat == 0 || l.NumRepeat < RepeatForever {
		return errors.NewValidationError("num_repeat", "must be -1 (forever) or positive", l.NumRepeat)
	}
	if l.ShuffleBuffer < 0 {
		return errors.NewValidationError("shuffle_buffer", "must not be negative", l.ShuffleBuffer)
	}
	return nil
}

// Iterate はシャードを解決し、先読みを開始した Iterator を返します。
// 使い終わったら Close を呼んでください。
func (l *Loader) Iterate(ctx context.Context) (*Iterator, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	shards, err := Resolve(l.Pattern)
	if err != nil {
		return nil, err
	}

	logger := l.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger.Debug("Opening shards",
		log.ComponentKey, "dataset",
		log.PatternKey, l.Pattern,
		log.ShardsKey, len(shards),
	)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	it := &Iterator{
		batches: make(chan *Batch, 1),
		cancel:  cancel,
		group:   g,
	}

	p := &producer{
		loader: l,
		shards: shards,
		out:    it.batches,
		rng:    rand.New(rand.NewSource(l.Seed)),
	}
	g.Go(func() error {
		defer close(it.batches)
		return p.run(gctx)
	})
	return it, nil
}

// producer は単一のゴルーチンで行を読み、バッチにまとめて送ります。
type producer struct {
	loader *Loader
	shards []string
	out    chan<- *Batch
	rng    *rand.Rand

	buffer  []RawRecord
	pending *Batch
}

func (p *producer) run(ctx context.Context) error {
	l := p.loader
	order := append([]string(nil), p.shards...)

	capacity := 0
	if l.Shuffle {
		capacity = l.ShuffleBuffer
		if capacity == 0 {
			capacity = DefaultShuffleBuffer
		}
	}
	p.pending = newBatch(l.BatchSize)

	for pass := 0; l.NumRepeat == RepeatForever || pass < l.NumRepeat; pass++ {
		if l.Shuffle {
			p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		rows := 0
		for _, shard := range order {
			n, err := p.readShard(ctx, shard, capacity)
			if err != nil {
				return err
			}
			rows += n
		}
		if rows == 0 {
			return errors.Wrapf(errors.ErrEmptyData, "%q", l.Pattern)
		}
		// バッファはデータ全体より大きくしない
		if pass == 0 && l.Shuffle && rows < capacity {
			capacity = rows
		}
	}

	// 残りのバッファを吐き出す
	for len(p.buffer) > 0 {
		if err := p.emit(ctx, p.popRandom()); err != nil {
			return err
		}
	}
	if p.pending.Len() > 0 {
		return p.send(ctx, p.pending)
	}
	return nil
}

func (p *producer) readShard(ctx context.Context, path string, capacity int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open shard %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	rows := 0
	for first := true; ; first = false {
		if rows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}
		fields, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				return rows, errors.NewParseError(path, csvErr.Line, "", "", csvErr.Err.Error())
			}
			return rows, errors.Wrapf(err, "read shard %q", path)
		}
		line, _ := r.FieldPos(0)
		if first && isHeader(fields) {
			continue
		}

		rec, err := ParseRecord(path, line, fields)
		if err != nil {
			return rows, err
		}
		rows++

		if capacity == 0 {
			if err := p.emit(ctx, rec); err != nil {
				return rows, err
			}
			continue
		}
		// tf.data 方式: バッファが満杯なら無作為に1行取り出してから追加する
		if len(p.buffer) >= capacity {
			if err := p.emit(ctx, p.popRandom()); err != nil {
				return rows, err
			}
		}
		p.buffer = append(p.buffer, rec)
	}
}

func (p *producer) popRandom() RawRecord {
	i := p.rng.Intn(len(p.buffer))
	last := len(p.buffer) - 1
	rec := p.buffer[i]
	p.buffer[i] = p.buffer[last]
	p.buffer = p.buffer[:last]
	return rec
}

func (p *producer) emit(ctx context.Context, rec RawRecord) error {
	p.pending.add(rec)
	if p.pending.Len() < p.loader.BatchSize {
		return nil
	}
	full := p.pending
	p.pending = newBatch(p.loader.BatchSize)
	return p.send(ctx, full)
}

func (p *producer) send(ctx context.Context, b *Batch) error {
	select {
	case p.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
