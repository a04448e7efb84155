package neural

import (
	"context"
	"io"
	"math/rand"
	"runtime"
	"strconv"

	"github.com/YuminosukeSato/taxifare/core/model"
	"github.com/YuminosukeSato/taxifare/core/parallel"
	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/metrics"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
	"github.com/YuminosukeSato/taxifare/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// ModelType は書き出すモデルの種類名です。
const ModelType = "wide_embedding_dnn"

// predictThreshold 以下の行数は並列化せずに推論する
const predictThreshold = 512

// Option は Regressor の設定を変更します。
type Option func(*config)

type config struct {
	seed    int64
	logger  log.Logger
	crosser preprocessing.Crosser
	workers int
	beta1   float64
	beta2   float64
	epsilon float64
}

// WithSeed は重みの初期化に使う乱数シードを設定します。
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = seed }
}

// WithLogger はロガーを設定します。
func WithLogger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithCrosser は特徴量クロスの関数を差し替えます。
func WithCrosser(crosser preprocessing.Crosser) Option {
	return func(c *config) { c.crosser = crosser }
}

// WithWorkers は推論時の並列数を設定します。0 以下なら GOMAXPROCS。
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithAdamParams は Adam の β1, β2, ε を変更します。
func WithAdamParams(beta1, beta2, epsilon float64) Option {
	return func(c *config) {
		c.beta1, c.beta2, c.epsilon = beta1, beta2, epsilon
	}
}

// Regressor は運賃を予測する回帰モデルです。
// TrainBatch と Restore は並行に呼ばないでください。Predict は学習中でなければ並行に呼べます。
type Regressor struct {
	pipeline     *preprocessing.Pipeline
	hidden       []int
	learningRate float64

	embedding *Embedding
	layers    []*Dense
	optimizer *Adam
	state     *model.StateManager

	workers int
	logger  log.Logger
}

// Build はモデルを組み立てます。
func Build(nbuckets int, hiddenLayerSizes []int, learningRate float64, opts ...Option) (*Regressor, error) {
	cfg := config{
		beta1:   DefaultBeta1,
		beta2:   DefaultBeta2,
		epsilon: DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Discard()
	}

	if len(hiddenLayerSizes) == 0 {
		return nil, errors.NewValidationError("hidden_layer_sizes", "at least one hidden layer is required", hiddenLayerSizes)
	}
	for i, size := range hiddenLayerSizes {
		if size <= 0 {
			return nil, errors.NewValidationError("hidden_layer_sizes["+strconv.Itoa(i)+"]", "must be positive", size)
		}
	}
	if !(learningRate > 0) {
		return nil, errors.NewValidationError("learning_rate", "must be positive", learningRate)
	}

	var pOpts []preprocessing.Option
	if cfg.crosser != nil {
		pOpts = append(pOpts, preprocessing.WithCrosser(cfg.crosser))
	}
	pipeline, err := preprocessing.NewPipeline(nbuckets, pOpts...)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	desc := pipeline.Describe()
	r := &Regressor{
		pipeline:     pipeline,
		hidden:       append([]int(nil), hiddenLayerSizes...),
		learningRate: learningRate,
		embedding:    newEmbedding(desc.EmbeddingShape[0], desc.EmbeddingShape[1], rng),
		state:        model.NewStateManager(),
		workers:      cfg.workers,
		logger:       cfg.logger.With(log.ComponentKey, "neural", log.ModelNameKey, ModelType),
	}

	in := preprocessing.InputWidth
	for _, size := range hiddenLayerSizes {
		r.layers = append(r.layers, newDense(in, size, true, rng))
		in = size
	}
	r.layers = append(r.layers, newDense(in, 1, false, rng))

	r.optimizer = NewAdam(learningRate)
	r.optimizer.Beta1, r.optimizer.Beta2, r.optimizer.Epsilon = cfg.beta1, cfg.beta2, cfg.epsilon

	r.logger.Info("Model built",
		log.NBucketsKey, nbuckets,
		log.HiddenUnitsKey, r.hidden,
		log.LearningRateKey, learningRate,
		log.FeaturesKey, preprocessing.InputWidth,
		"embedding_rows", desc.EmbeddingShape[0],
	)
	return r, nil
}

// Pipeline returns the feature pipeline the model was built with.
func (r *Regressor) Pipeline() *preprocessing.Pipeline { return r.pipeline }

// HiddenLayerSizes returns a copy of the hidden layer widths.
func (r *Regressor) HiddenLayerSizes() []int { return append([]int(nil), r.hidden...) }

// LearningRate returns the optimizer learning rate.
func (r *Regressor) LearningRate() float64 { return r.learningRate }

// Embedding returns the embedding table.
func (r *Regressor) Embedding() *Embedding { return r.embedding }

// Layers returns the dense layers, output layer last.
func (r *Regressor) Layers() []*Dense { return r.layers }

// State returns the training progress.
func (r *Regressor) State() *model.StateManager { return r.state }

type forwardCache struct {
	ids  []int
	acts []*mat.Dense // acts[0] は入力、acts[l+1] は層 l の出力
	pres []*mat.Dense
}

func (r *Regressor) forward(t *preprocessing.Transformed) *forwardCache {
	n := t.Rows()
	x := mat.NewDense(n, preprocessing.InputWidth, nil)
	for i := 0; i < n; i++ {
		preprocessing.Concat(x.RawRowView(i), t.Scalars.RawRowView(i), r.embedding.Row(t.CrossIDs[i]))
	}

	c := &forwardCache{ids: t.CrossIDs, acts: []*mat.Dense{x}}
	for _, layer := range r.layers {
		pre, act := layer.forward(c.acts[len(c.acts)-1])
		c.pres = append(c.pres, pre)
		c.acts = append(c.acts, act)
	}
	return c
}

func (c *forwardCache) output() []float64 {
	return mat.Col(nil, 0, c.acts[len(c.acts)-1])
}

// TrainBatch は1バッチで1回の最適化ステップを実行し、更新前の MSE を返します。
// 損失が NaN や Inf になった場合は NumericalInstabilityError を返し、重みは更新しません。
func (r *Regressor) TrainBatch(b *dataset.Batch) (float64, error) {
	t, err := r.pipeline.TransformBatch(b)
	if err != nil {
		return 0, err
	}
	n := t.Rows()
	c := r.forward(t)
	pred := c.output()

	loss, err := metrics.MSE(mat.NewVecDense(n, b.Labels), mat.NewVecDense(n, pred))
	if err != nil {
		return 0, err
	}
	// d(MSE)/d(pred_i) = 2(pred_i - y_i)/n
	dOut := mat.NewDense(n, 1, nil)
	for i, p := range pred {
		dOut.Set(i, 0, 2*(p-b.Labels[i])/float64(n))
	}

	step := r.state.GetState().GlobalStep
	if err := errors.CheckScalar("train_step", loss, step); err != nil {
		return loss, err
	}

	gradsW := make([]*mat.Dense, len(r.layers))
	gradsB := make([][]float64, len(r.layers))
	upstream := dOut
	for l := len(r.layers) - 1; l >= 0; l-- {
		gradsW[l], gradsB[l], upstream = r.layers[l].backward(c.acts[l], c.pres[l], upstream)
	}

	// upstream は入力ベクトルに対する勾配。埋め込み部分を id ごとに集計する
	dim := r.embedding.Dim
	embGrads := make(map[int][]float64)
	for i, id := range c.ids {
		row := upstream.RawRowView(i)[preprocessing.EmbeddingOffset : preprocessing.EmbeddingOffset+dim]
		g, ok := embGrads[id]
		if !ok {
			g = make([]float64, dim)
			embGrads[id] = g
		}
		for j, v := range row {
			g[j] += v
		}
	}

	lr := r.optimizer.begin()
	for l, layer := range r.layers {
		name := "dense_" + strconv.Itoa(l)
		r.optimizer.update(lr, name+"/kernel", layer.W.RawMatrix().Data, gradsW[l].RawMatrix().Data)
		r.optimizer.update(lr, name+"/bias", layer.B, gradsB[l])
	}
	r.optimizer.updateRows(lr, "embedding", r.embedding.Weights.RawMatrix().Data, dim, embGrads)

	r.state.RecordStep(n)
	return loss, nil
}

// PredictRecords は生の行から運賃を予測します。大きな入力は行を分割して並列に推論します。
// 結果は入力と同じ順序で、分割の仕方によらず同じ値になります。
func (r *Regressor) PredictRecords(records []dataset.RawRecord) ([]float64, error) {
	t, err := r.pipeline.TransformRecords(records)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(records))
	run := func(start, end int) {
		sub := &preprocessing.Transformed{
			Scalars:  t.Scalars.Slice(start, end, 0, len(preprocessing.ScalarColumns)).(*mat.Dense),
			CrossIDs: t.CrossIDs[start:end],
		}
		copy(out[start:end], r.forward(sub).output())
	}
	if len(records) <= predictThreshold {
		run(0, len(records))
	} else {
		parallel.ParallelizeN(len(records), r.workerCount(), run)
	}
	return out, nil
}

func (r *Regressor) workerCount() int {
	if r.workers > 0 {
		return r.workers
	}
	return runtime.GOMAXPROCS(0)
}

// Predict はバッチの各行の運賃を予測します。
func (r *Regressor) Predict(b *dataset.Batch) ([]float64, error) {
	if b == nil {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	return r.PredictRecords(b.Records)
}

// Evaluate は Iterator を最後まで読み、MSE / RMSE / MAE を返します。
func (r *Regressor) Evaluate(ctx context.Context, it *dataset.Iterator) (metrics.Regression, error) {
	var acc metrics.Accumulator
	for {
		if err := ctx.Err(); err != nil {
			return metrics.Regression{}, err
		}
		b, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return metrics.Regression{}, err
		}
		pred, err := r.Predict(b)
		if err != nil {
			return metrics.Regression{}, err
		}
		if err := errors.CheckNumericalStability("evaluate", pred, r.state.GetState().GlobalStep); err != nil {
			return metrics.Regression{}, err
		}
		if err := acc.Add(b.Labels, pred); err != nil {
			return metrics.Regression{}, err
		}
	}

	res, err := acc.Result()
	if err != nil {
		return res, err
	}
	if err := errors.CheckScalar("evaluate", res.MSE, r.state.GetState().GlobalStep); err != nil {
		return res, err
	}
	return res, nil
}
