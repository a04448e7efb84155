package trainer

import (
	"time"

	"github.com/YuminosukeSato/taxifare/neural"
)

// EpochResult は1エポックの記録です。CSV の履歴にもこの形で書かれます。
type EpochResult struct {
	Epoch       int     `json:"epoch" csv:"epoch"`
	GlobalStep  int     `json:"global_step" csv:"global_step"`
	SamplesSeen int     `json:"samples_seen" csv:"samples_seen"`
	TrainLoss   float64 `json:"train_loss" csv:"train_loss"`
	ValMSE      float64 `json:"val_mse" csv:"val_mse"`
	ValRMSE     float64 `json:"val_rmse" csv:"val_rmse"`
	ValMAE      float64 `json:"val_mae" csv:"val_mae"`
	ValR2       float64 `json:"val_r2" csv:"val_r2"`
	ValSamples  int     `json:"val_samples" csv:"val_samples"`
	DurationMs  int64   `json:"duration_ms" csv:"duration_ms"`
}

// TrainEnv はトライアル全体で共有される情報です。
type TrainEnv struct {
	TrialID         string
	Hyperparameters HyperparameterSet
	Artifacts       Artifacts
	StepsPerEpoch   int
	Seed            int64
	Model           *neural.Regressor
	BeginTime       time.Time
}

// EpochEnv は OnEpochEnd に渡される情報です。
type EpochEnv struct {
	*TrainEnv
	Result EpochResult
}

// Result は Run の結果です。エラーで終わった場合も途中までの記録を持ちます。
type Result struct {
	State         State
	Artifacts     Artifacts
	StepsPerEpoch int
	History       []EpochResult
	ExportDir     string
}

// Final returns the last epoch record, if any.
func (r *Result) Final() (EpochResult, bool) {
	if r == nil || len(r.History) == 0 {
		return EpochResult{}, false
	}
	return r.History[len(r.History)-1], true
}

// Observer は学習の各段階で呼ばれます。Observer のエラーはログに残るだけで、
// 学習の流れや報告される指標には影響しません。
type Observer interface {
	// OnTrainBegin はデータを開いた後、最初のエポックの前に呼ばれます。
	OnTrainBegin(env *TrainEnv) error
	// OnEpochEnd は評価と指標の報告の後に呼ばれます。
	OnEpochEnd(env *EpochEnv) error
	// OnTrainEnd は成功・失敗にかかわらず最後に1回呼ばれます。
	// runErr はトライアルを止めたエラーです。
	OnTrainEnd(env *TrainEnv, result *Result, runErr error) error
}

// BaseObserver は何もしない Observer です。必要なメソッドだけ上書きするために埋め込みます。
type BaseObserver struct{}

func (BaseObserver) OnTrainBegin(*TrainEnv) error { return nil }
func (BaseObserver) OnEpochEnd(*EpochEnv) error { return nil }
func (BaseObserver) OnTrainEnd(*TrainEnv, *Result, error) error { return nil }

// EpochFunc は関数を OnEpochEnd だけの Observer として使うためのアダプタです。
type EpochFunc func(env *EpochEnv) error

func (EpochFunc) OnTrainBegin(*TrainEnv) error { return nil }
func (f EpochFunc) OnEpochEnd(env *EpochEnv) error { return f(env) }
func (EpochFunc) OnTrainEnd(*TrainEnv, *Result, error) error { return nil }
