package trainer

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/preprocessing"
)

// HyperparameterSet は1トライアルの設定です。トライアル開始時に一度だけ作られ、
// Trainer は受け取った値をコピーして使います。
type HyperparameterSet struct {
	BatchSize            int     `json:"batch_size"`
	NBuckets             int     `json:"nbuckets"`
	LearningRate         float64 `json:"lr"`
	HiddenLayerSizes     []int   `json:"nnsize"`
	NumEvals             int     `json:"num_evals"`
	NumExamplesToTrainOn int     `json:"num_examples_to_train_on"`
	TrainPath            string  `json:"train_data_path"`
	EvalPath             string  `json:"eval_data_path"`
	OutputDir            string  `json:"output_dir"`
}

// DefaultHyperparameters はコマンドラインの既定値です。パスは含みません。
func DefaultHyperparameters() HyperparameterSet {
	return HyperparameterSet{
		BatchSize:            32,
		NBuckets:             10,
		LearningRate:         0.001,
		HiddenLayerSizes:     []int{32, 8},
		NumEvals:             8,
		NumExamplesToTrainOn: 5000,
	}
}

// Clone はスライスを含めたコピーを返します。
func (h HyperparameterSet) Clone() HyperparameterSet {
	h.HiddenLayerSizes = append([]int(nil), h.HiddenLayerSizes...)
	return h
}

// Validate は各値を検証し、問題のあるフィールド名を持つ ValidationError を返します。
func (h HyperparameterSet) Validate() error {
	if h.TrainPath == "" {
		return errors.NewValidationError("train_data_path", "is required", h.TrainPath)
	}
	if h.EvalPath == "" {
		return errors.NewValidationError("eval_data_path", "is required", h.EvalPath)
	}
	if h.OutputDir == "" {
		return errors.NewValidationError("output_dir", "is required", h.OutputDir)
	}
	if h.BatchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", h.BatchSize)
	}
	if h.NBuckets < 2 || h.NBuckets > preprocessing.MaxNBuckets {
		return errors.NewValidationError("nbuckets", "must be in [2, "+strconv.Itoa(preprocessing.MaxNBuckets)+"]", h.NBuckets)
	}
	if !(h.LearningRate > 0) {
		return errors.NewValidationError("lr", "must be positive", h.LearningRate)
	}
	if len(h.HiddenLayerSizes) == 0 {
		return errors.NewValidationError("nnsize", "at least one hidden layer is required", h.HiddenLayerSizes)
	}
	for _, size := range h.HiddenLayerSizes {
		if size <= 0 {
			return errors.NewValidationError("nnsize", "layer widths must be positive", h.HiddenLayerSizes)
		}
	}
	if h.NumEvals <= 0 {
		return errors.NewValidationError("num_evals", "must be positive", h.NumEvals)
	}
	if h.NumExamplesToTrainOn <= 0 {
		return errors.NewValidationError("num_examples_to_train_on", "must be positive", h.NumExamplesToTrainOn)
	}
	return nil
}

// StepsPerEpoch は1エポックの最適化ステップ数です。少なくとも1になります。
//
//	max(1, numExamples / (batchSize * numEvals))
func StepsPerEpoch(numExamples, batchSize, numEvals int) int {
	if batchSize <= 0 || numEvals <= 0 {
		return 1
	}
	steps := numExamples / (batchSize * numEvals)
	if steps < 1 {
		return 1
	}
	return steps
}

// StepsPerEpoch returns the step count for h.
func (h HyperparameterSet) StepsPerEpoch() int {
	return StepsPerEpoch(h.NumExamplesToTrainOn, h.BatchSize, h.NumEvals)
}

// ParseLayerSizes は "32 8" のような空白区切りの層幅を解析します。
func ParseLayerSizes(s string) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.NewValidationError("nnsize", "at least one hidden layer is required", s)
	}
	sizes := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.NewValidationError("nnsize", "not an integer: "+f, s)
		}
		if n <= 0 {
			return nil, errors.NewValidationError("nnsize", "layer widths must be positive", s)
		}
		sizes[i] = n
	}
	return sizes, nil
}

// FormatLayerSizes は ParseLayerSizes の逆変換です。
func FormatLayerSizes(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}
