// Package trainer は1回のハイパーパラメータ試行（トライアル）を実行します。
//
// Trainer.Run は出力ディレクトリを初期化し、モデルを組み立て、num_evals 回の
// エポックを回してエポックごとに検証 RMSE を Reporter に渡し、最後にサービング用の
// モデルを書き出します。
//
// 使用例:
//
//	reporter := tuning.NewHypertuneReporter(metricFile, trialID)
//	t := trainer.New(trainer.WithReporter(reporter), trainer.WithTrialID(trialID))
//	result, err := t.Run(ctx, hp)
package trainer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/neural"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
	"github.com/YuminosukeSato/taxifare/tuning"
	"github.com/spf13/afero"
)

// MetricName はコントローラに報告する指標の名前です。
const MetricName = "rmse"

// Option は Trainer の設定を変更します。
type Option func(*Trainer)

// WithReporter は指標の送り先を設定します。既定は LogReporter です。
func WithReporter(r tuning.Reporter) Option {
	return func(t *Trainer) { t.reporter = r }
}

// WithLogger はロガーを設定します。
func WithLogger(logger log.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithFs は成果物を書くファイルシステムを差し替えます。既定は OS のファイルシステムです。
// 入力シャードは常に OS から読みます。
func WithFs(fs afero.Fs) Option {
	return func(t *Trainer) { t.fs = fs }
}

// WithClock は時計を差し替えます。書き出し先のディレクトリ名に使われます。
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// WithSeed は重みの初期化とシャッフルの乱数シードを設定します。
func WithSeed(seed int64) Option {
	return func(t *Trainer) { t.seed = seed }
}

// WithTrialID はログと成果物に記録するトライアルの識別子を設定します。
func WithTrialID(id string) Option {
	return func(t *Trainer) { t.trialID = id }
}

// WithObservers は既定の CheckpointWriter と EventWriter に加えて Observer を登録します。
func WithObservers(observers ...Observer) Option {
	return func(t *Trainer) { t.observers = append(t.observers, observers...) }
}

// WithoutDefaultObservers は既定の CheckpointWriter と EventWriter を登録しません。
func WithoutDefaultObservers() Option {
	return func(t *Trainer) { t.noDefaults = true }
}

// WithModelOptions はモデルの組み立てに渡すオプションを追加します。
func WithModelOptions(opts ...neural.Option) Option {
	return func(t *Trainer) { t.modelOpts = append(t.modelOpts, opts...) }
}

// Trainer は1トライアルを実行します。Run は1つの Trainer で同時に1回だけ呼んでください。
type Trainer struct {
	reporter   tuning.Reporter
	logger     log.Logger
	fs         afero.Fs
	now        func() time.Time
	seed       int64
	trialID    string
	observers  []Observer
	noDefaults bool
	modelOpts  []neural.Option

	state atomic.Int32
	model *neural.Regressor
}

// New creates a Trainer.
func New(opts ...Option) *Trainer {
	t := &Trainer{
		fs:  afero.NewOsFs(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.Discard()
	}
	if t.reporter == nil {
		t.reporter = tuning.LogReporter{Logger: t.logger}
	}
	t.logger = t.logger.With(log.ComponentKey, "trainer", log.TrialIDKey, t.trialID)
	return t
}

// State は現在の状態を返します。別のゴルーチンから呼んでも安全です。
func (t *Trainer) State() State { return State(t.state.Load()) }

// Model は直近の Run で組み立てたモデルを返します。
func (t *Trainer) Model() *neural.Regressor { return t.model }

func (t *Trainer) setState(s State) {
	t.state.Store(int32(s))
	t.logger.Info("Trial state", log.StateKey, s.String())
}

// Run はトライアルを最初から最後まで実行します。
//
// EXPORTED に到達した場合だけ nil を返します。それ以外のエラーでは状態は
// 終端に達せず、Result には途中までの履歴が入ります。
// 報告と Observer の失敗はログに残し、学習は続けます。
func (t *Trainer) Run(ctx context.Context, hp HyperparameterSet) (result *Result, err error) {
	t.setState(StateInit)
	t.model = nil

	hp = hp.Clone()
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	artifacts := NewArtifacts(hp.OutputDir)
	result = &Result{
		State:         StateInit,
		Artifacts:     artifacts,
		StepsPerEpoch: hp.StepsPerEpoch(),
	}
	defer func() { result.State = t.State() }()

	if err := artifacts.Prepare(t.fs); err != nil {
		return result, err
	}
	t.setState(StateOutputDirCleared)

	opts := append([]neural.Option{neural.WithSeed(t.seed), neural.WithLogger(t.logger)}, t.modelOpts...)
	reg, err := neural.Build(hp.NBuckets, hp.HiddenLayerSizes, hp.LearningRate, opts...)
	if err != nil {
		return result, err
	}
	t.model = reg
	t.setState(StateModelBuilt)

	trainLoader := dataset.TrainLoader(hp.TrainPath, hp.BatchSize, t.seed)
	trainLoader.Logger = t.logger
	evalLoader := dataset.EvalLoader(hp.EvalPath, hp.BatchSize)
	evalLoader.Logger = t.logger
	if _, err := dataset.Resolve(hp.EvalPath); err != nil {
		return result, errors.Wrap(err, "eval_data_path")
	}
	trainIt, err := trainLoader.Iterate(ctx)
	if err != nil {
		return result, errors.Wrap(err, "train_data_path")
	}
	defer func() {
		if cerr := trainIt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	t.setState(StateDataLoaded)

	env := &TrainEnv{
		TrialID:         t.trialID,
		Hyperparameters: hp,
		Artifacts:       artifacts,
		StepsPerEpoch:   result.StepsPerEpoch,
		Seed:            t.seed,
		Model:           reg,
		BeginTime:       t.now(),
	}
	observers := t.observerList()
	for _, o := range observers {
		t.observe("OnTrainBegin", func() error { return o.OnTrainBegin(env) })
	}
	defer func() {
		result.State = t.State()
		for _, o := range observers {
			t.observe("OnTrainEnd", func() error { return o.OnTrainEnd(env, result, err) })
		}
	}()

	t.logger.Info("Training started",
		log.OperationKey, log.OperationFit,
		log.BatchSizeKey, hp.BatchSize,
		log.NumEvalsKey, hp.NumEvals,
		log.StepsPerEpochKey, result.StepsPerEpoch,
		log.RandomSeedKey, t.seed,
	)
	t.setState(StateTraining)

	guard := tuning.NewStepGuard(t.reporter)
	for epoch := 0; epoch < hp.NumEvals; epoch++ {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "cancelled before epoch %d", epoch)
		}

		rec, err := t.runEpoch(ctx, epoch, result.StepsPerEpoch, trainIt, evalLoader)
		if err != nil {
			return result, err
		}
		result.History = append(result.History, rec)

		t.report(guard, rec)

		epochEnv := &EpochEnv{TrainEnv: env, Result: rec}
		for _, o := range observers {
			t.observe("OnEpochEnd", func() error { return o.OnEpochEnd(epochEnv) })
		}
	}

	exportDir, err := t.export(reg, artifacts, result)
	if err != nil {
		return result, err
	}
	result.ExportDir = exportDir
	t.setState(StateExported)
	return result, nil
}

func (t *Trainer) observerList() []Observer {
	var list []Observer
	if !t.noDefaults {
		list = append(list, NewCheckpointWriter(t.fs, DefaultMaxToKeep), NewEventWriter(t.fs))
	}
	return append(list, t.observers...)
}

// runEpoch は stepsPerEpoch 回の学習ステップと1回の評価を行います。
func (t *Trainer) runEpoch(ctx context.Context, epoch, stepsPerEpoch int, trainIt *dataset.Iterator, evalLoader *dataset.Loader) (EpochResult, error) {
	start := t.now()

	var lossSum float64
	for step := 0; step < stepsPerEpoch; step++ {
		if err := ctx.Err(); err != nil {
			return EpochResult{}, errors.Wrapf(err, "cancelled at epoch %d step %d", epoch, step)
		}
		batch, err := trainIt.Next(ctx)
		if err == io.EOF {
			return EpochResult{}, errors.Wrap(errors.ErrEmptyData, "training data exhausted")
		}
		if err != nil {
			return EpochResult{}, err
		}
		loss, err := t.model.TrainBatch(batch)
		if err != nil {
			return EpochResult{}, err
		}
		lossSum += loss
	}

	evalIt, err := evalLoader.Iterate(ctx)
	if err != nil {
		return EpochResult{}, err
	}
	eval, err := t.model.Evaluate(ctx, evalIt)
	cerr := evalIt.Close()
	if err != nil {
		return EpochResult{}, errors.Wrapf(err, "evaluate epoch %d", epoch)
	}
	if cerr != nil {
		return EpochResult{}, cerr
	}

	t.model.State().RecordEpoch()
	st := t.model.State().GetState()
	rec := EpochResult{
		Epoch:       epoch,
		GlobalStep:  st.GlobalStep,
		SamplesSeen: st.SamplesSeen,
		TrainLoss:   lossSum / float64(stepsPerEpoch),
		ValMSE:      eval.MSE,
		ValRMSE:     eval.RMSE,
		ValMAE:      eval.MAE,
		ValR2:       eval.R2,
		ValSamples:  eval.Samples,
		DurationMs:  t.now().Sub(start).Milliseconds(),
	}

	t.logger.Info("Epoch finished",
		log.PhaseKey, log.PhaseValidation,
		log.EpochKey, epoch,
		log.StepKey, rec.GlobalStep,
		log.LossKey, rec.TrainLoss,
		log.RMSEKey, rec.ValRMSE,
		log.SamplesKey, rec.ValSamples,
		log.DurationMsKey, rec.DurationMs,
	)
	return rec, nil
}

// report は指標を送ります。失敗やパニックは WARN で記録し、学習は止めません。
func (t *Trainer) report(r tuning.Reporter, rec EpochResult) {
	err := errors.SafeExecute("report "+MetricName, func() error {
		return r.Report(MetricName, rec.ValRMSE, rec.Epoch)
	})
	if err != nil {
		t.logger.Warn("Failed to report trial metric",
			err,
			log.ErrorCodeKey, log.ErrorReportFailed,
			log.MetricNameKey, MetricName,
			log.EpochKey, rec.Epoch,
		)
	}
}

func (t *Trainer) observe(hook string, fn func() error) {
	if err := errors.SafeExecute(hook, fn); err != nil {
		t.logger.Warn("Observer failed",
			err,
			log.ErrorCodeKey, log.ErrorObserverFailed,
			"hook", hook,
		)
	}
}

// export はステージングディレクトリに書き出してから savedmodel/<時刻> へリネームします。
// 途中で失敗しても書き出し先に不完全なモデルは残りません。
func (t *Trainer) export(reg *neural.Regressor, a Artifacts, result *Result) (string, error) {
	at := t.now()
	staging, final := a.StagingDir(at), a.ExportDir(at)

	metadata := map[string]interface{}{
		"trial_id":        t.trialID,
		"exported_at":     at.UTC().Format(time.RFC3339),
		"steps_per_epoch": result.StepsPerEpoch,
	}
	if last, ok := result.Final(); ok {
		metadata["val_rmse"] = last.ValRMSE
		metadata["epochs"] = len(result.History)
	}

	if err := t.fs.RemoveAll(staging); err != nil {
		return "", errors.Wrapf(err, "clear staging dir %s", staging)
	}
	if err := reg.Export(t.fs, staging, metadata); err != nil {
		_ = t.fs.RemoveAll(staging)
		return "", err
	}
	if err := t.fs.Rename(staging, final); err != nil {
		_ = t.fs.RemoveAll(staging)
		return "", errors.Wrapf(err, "publish export %s", final)
	}

	t.logger.Info("Servable model published",
		log.OperationKey, log.OperationExport,
		log.PhaseKey, log.PhaseExport,
		log.ArtifactPathKey, final,
	)
	return final, nil
}
