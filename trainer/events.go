package trainer

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// EventWriter が tensorboard ディレクトリに書くファイル。
const (
	EventsFile        = "events.jsonl"
	HistoryFile       = "history.csv"
	LearningCurveFile = "learning_curve.png"
)

// Summary は学習曲線の要約です。
type Summary struct {
	Epochs    int
	BestEpoch int
	BestRMSE  float64
	MeanRMSE  float64
	StdRMSE   float64
	FinalRMSE float64
	FinalLoss float64
}

// Summarize は履歴から Summary を計算します。
func Summarize(history []EpochResult) (Summary, error) {
	if len(history) == 0 {
		return Summary{}, errors.WithStack(errors.ErrEmptyData)
	}
	rmse := make(stats.Float64Data, len(history))
	for i, h := range history {
		rmse[i] = h.ValRMSE
	}

	best, err := stats.Min(rmse)
	if err != nil {
		return Summary{}, errors.Wrap(err, "min rmse")
	}
	mean, err := stats.Mean(rmse)
	if err != nil {
		return Summary{}, errors.Wrap(err, "mean rmse")
	}
	std, err := stats.StandardDeviation(rmse)
	if err != nil {
		return Summary{}, errors.Wrap(err, "stddev rmse")
	}

	s := Summary{
		Epochs:    len(history),
		BestRMSE:  best,
		MeanRMSE:  mean,
		StdRMSE:   std,
		FinalRMSE: history[len(history)-1].ValRMSE,
		FinalLoss: history[len(history)-1].TrainLoss,
	}
	for _, h := range history {
		if h.ValRMSE == best {
			s.BestEpoch = h.Epoch
			break
		}
	}
	return s, nil
}

// EventWriter はオフラインで確認するための記録を書く Observer です。
//
//   - events.jsonl: zerolog の JSON イベント（1行1イベント）
//   - history.csv: エポックごとの損失と評価指標
//   - learning_curve.png: 学習損失と検証 RMSE の推移
type EventWriter struct {
	fs afero.Fs

	runID   string
	dir     string
	file    afero.File
	events  zerolog.Logger
	history []EpochResult
}

// NewEventWriter creates an EventWriter writing through fs.
func NewEventWriter(fs afero.Fs) *EventWriter {
	return &EventWriter{fs: fs}
}

// RunID は実行ごとに振られる識別子です。OnTrainBegin 前は空です。
func (w *EventWriter) RunID() string { return w.runID }

// OnTrainBegin implements Observer.
func (w *EventWriter) OnTrainBegin(env *TrainEnv) error {
	w.dir = env.Artifacts.TensorboardDir
	w.history = nil
	w.runID = uuid.NewString()

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", w.dir)
	}
	f, err := w.fs.OpenFile(filepath.Join(w.dir, EventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open event file")
	}
	w.file = f
	w.events = zerolog.New(f).With().
		Timestamp().
		Str("run_id", w.runID).
		Str("trial", env.TrialID).
		Logger()

	hp := env.Hyperparameters
	w.events.Info().
		Str("event", "train_begin").
		Int("batch_size", hp.BatchSize).
		Int("nbuckets", hp.NBuckets).
		Float64("lr", hp.LearningRate).
		Ints("nnsize", hp.HiddenLayerSizes).
		Int("num_evals", hp.NumEvals).
		Int("num_examples_to_train_on", hp.NumExamplesToTrainOn).
		Int("steps_per_epoch", env.StepsPerEpoch).
		Int64("seed", env.Seed).
		Msg("")
	return nil
}

// OnEpochEnd implements Observer.
func (w *EventWriter) OnEpochEnd(env *EpochEnv) error {
	if w.file == nil {
		return errors.NewValueError("EventWriter", "OnTrainBegin was not called")
	}
	r := env.Result
	w.history = append(w.history, r)

	w.events.Info().
		Str("event", "epoch_end").
		Int("epoch", r.Epoch).
		Int("global_step", r.GlobalStep).
		Int("samples_seen", r.SamplesSeen).
		Float64("train_loss", r.TrainLoss).
		Float64("val_mse", r.ValMSE).
		Float64("val_rmse", r.ValRMSE).
		Float64("val_mae", r.ValMAE).
		Float64("val_r2", r.ValR2).
		Int("val_samples", r.ValSamples).
		Int64("duration_ms", r.DurationMs).
		Msg("")

	return w.writeHistory()
}

// OnTrainEnd implements Observer.
func (w *EventWriter) OnTrainEnd(env *TrainEnv, result *Result, runErr error) error {
	if w.file == nil {
		return nil
	}
	defer func() {
		_ = w.file.Close()
		w.file = nil
	}()

	var ev *zerolog.Event
	if runErr == nil {
		ev = w.events.Info()
	} else {
		ev = w.events.Error()
		var marshaler zerolog.LogObjectMarshaler
		if errors.As(runErr, &marshaler) {
			ev = ev.Object("cause", marshaler)
		}
		ev = ev.AnErr("error", runErr)
	}
	ev = ev.Str("event", "train_end")
	if result != nil {
		ev = ev.Str("state", result.State.String()).Str("export_dir", result.ExportDir)
	}

	var plotErr error
	if summary, err := Summarize(w.history); err == nil {
		ev = ev.Int("epochs", summary.Epochs).
			Int("best_epoch", summary.BestEpoch).
			Float64("best_rmse", summary.BestRMSE).
			Float64("mean_rmse", summary.MeanRMSE).
			Float64("std_rmse", summary.StdRMSE).
			Float64("final_rmse", summary.FinalRMSE)
		plotErr = w.writeLearningCurve(env.TrialID)
	}
	ev.Msg("")

	return plotErr
}

func (w *EventWriter) writeHistory() error {
	var buf bytes.Buffer
	if err := gocsv.Marshal(&w.history, &buf); err != nil {
		return errors.Wrap(err, "encode history")
	}
	path := filepath.Join(w.dir, HistoryFile)
	tmp := path + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.WithStack(w.fs.Rename(tmp, path))
}

func (w *EventWriter) writeLearningCurve(trialID string) error {
	loss := make(plotter.XYs, len(w.history))
	rmse := make(plotter.XYs, len(w.history))
	for i, h := range w.history {
		loss[i].X, loss[i].Y = float64(h.Epoch), h.TrainLoss
		rmse[i].X, rmse[i].Y = float64(h.Epoch), h.ValRMSE
	}

	p := plot.New()
	p.Title.Text = "Learning curve"
	if trialID != "" {
		p.Title.Text += " (trial " + trialID + ")"
	}
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	lossLine, err := plotter.NewLine(loss)
	if err != nil {
		return errors.Wrap(err, "loss line")
	}
	lossLine.Width = vg.Points(1.2)
	lossLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	rmseLine, err := plotter.NewLine(rmse)
	if err != nil {
		return errors.Wrap(err, "rmse line")
	}
	rmseLine.Width = vg.Points(1.6)

	p.Add(lossLine, rmseLine)
	p.Legend.Add("train loss (MSE)", lossLine)
	p.Legend.Add("val RMSE", rmseLine)
	p.Legend.Top = true

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "render learning curve")
	}
	f, err := w.fs.Create(filepath.Join(w.dir, LearningCurveFile))
	if err != nil {
		return errors.Wrap(err, "create learning curve file")
	}
	if _, err := wt.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write learning curve")
	}
	return errors.WithStack(f.Close())
}
