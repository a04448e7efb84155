// Package tuning は外部のハイパーパラメータ探索コントローラとの
// トライアル側の契約を実装します。
//
// トライアルはエポックごとに1つの指標を Reporter に渡します。探索アルゴリズム
// そのものはコントローラ側にあり、ここでは実装しません。
package tuning

import (
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
)

// Reporter はトライアルの指標をコントローラへ送ります。
// トライアルの識別子は実行環境から与えられ、Reporter の実装が保持します。
type Reporter interface {
	Report(metric string, value float64, step int) error
}

// ReporterFunc は関数を Reporter として使うためのアダプタです。
type ReporterFunc func(metric string, value float64, step int) error

// Report implements Reporter.
func (f ReporterFunc) Report(metric string, value float64, step int) error {
	return f(metric, value, step)
}

// TrialMetric は1エポック分の観測値です。
type TrialMetric struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// ErrStepNotIncreasing は step が前回以下の場合のエラーです。
var ErrStepNotIncreasing = errors.New("step must be strictly increasing")

// StepGuard は step が指標ごとに狭義単調増加であることを保証します。
type StepGuard struct {
	next Reporter
	last map[string]int
}

// NewStepGuard wraps next.
func NewStepGuard(next Reporter) *StepGuard {
	return &StepGuard{next: next, last: make(map[string]int)}
}

// Report implements Reporter.
func (g *StepGuard) Report(metric string, value float64, step int) error {
	if step < 0 {
		return errors.NewValidationError("step", "must not be negative", step)
	}
	if last, ok := g.last[metric]; ok && step <= last {
		return errors.Wrapf(ErrStepNotIncreasing, "%s: step %d after %d", metric, step, last)
	}
	g.last[metric] = step
	return g.next.Report(metric, value, step)
}

// LogReporter は指標を構造化ログに書くだけの Reporter です。
// コントローラの無いローカル実行で使います。
type LogReporter struct {
	Logger log.Logger
}

// Report implements Reporter.
func (r LogReporter) Report(metric string, value float64, step int) error {
	r.Logger.Info("Trial metric",
		log.OperationKey, log.OperationReport,
		log.MetricNameKey, metric,
		log.MetricValueKey, value,
		log.StepKey, step,
	)
	return nil
}

// MultiReporter はすべての Reporter に送ります。1つが失敗しても残りには送り、
// エラーはまとめて返します。
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(metric string, value float64, step int) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(metric, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder はメモリ上に観測値を記録する Reporter です。
type Recorder struct {
	Metrics map[string][]TrialMetric
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{Metrics: make(map[string][]TrialMetric)}
}

// Report implements Reporter.
func (r *Recorder) Report(metric string, value float64, step int) error {
	r.Metrics[metric] = append(r.Metrics[metric], TrialMetric{Epoch: step, Value: value})
	return nil
}
