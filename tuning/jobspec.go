package tuning

import (
	"bytes"
	"io"
	"math"
	"sort"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// 最適化の方向。
const (
	GoalMinimize = "MINIMIZE"
	GoalMaximize = "MAXIMIZE"
)

// パラメータの種類。
const (
	ParamDouble      = "DOUBLE"
	ParamInteger     = "INTEGER"
	ParamDiscrete    = "DISCRETE"
	ParamCategorical = "CATEGORICAL"
)

// 連続値パラメータのスケール。
const (
	ScaleUnspecified = ""
	ScaleLinear      = "UNIT_LINEAR_SCALE"
	ScaleLog         = "UNIT_LOG_SCALE"
	ScaleReverseLog  = "UNIT_REVERSE_LOG_SCALE"
)

// 探索アルゴリズム。空文字はコントローラ既定のベイズ最適化です。
const (
	AlgorithmDefault     = ""
	AlgorithmUnspecified = "ALGORITHM_UNSPECIFIED"
	AlgorithmGrid        = "GRID_SEARCH"
	AlgorithmRandom      = "RANDOM_SEARCH"
)

// TunableFlags はトライアルのコマンドラインで受け付けるパラメータ名です。
// JobSpec のパラメータ id はこのいずれかでなければなりません。
var TunableFlags = map[string]string{
	"batch_size":               ParamInteger,
	"nbuckets":                 ParamInteger,
	"lr":                       ParamDouble,
	"nnsize":                   ParamCategorical,
	"num_evals":                ParamInteger,
	"num_examples_to_train_on": ParamInteger,
}

// MetricSpec は最適化対象の指標です。
type MetricSpec struct {
	ID   string `yaml:"id"`
	Goal string `yaml:"goal"`
}

// ParameterSpec は1つのハイパーパラメータの探索範囲です。
type ParameterSpec struct {
	ID         string    `yaml:"id"`
	Type       string    `yaml:"type"`
	Min        float64   `yaml:"min,omitempty"`
	Max        float64   `yaml:"max,omitempty"`
	Scale      string    `yaml:"scale,omitempty"`
	Values     []float64 `yaml:"values,omitempty"`
	Categories []string  `yaml:"categories,omitempty"`
}

// JobSpec はチューニングジョブの設定です。
type JobSpec struct {
	DisplayName        string          `yaml:"display_name,omitempty"`
	Metric             MetricSpec      `yaml:"metric"`
	Parameters         []ParameterSpec `yaml:"parameters"`
	Algorithm          string          `yaml:"algorithm,omitempty"`
	MaxTrialCount      int             `yaml:"max_trial_count"`
	ParallelTrialCount int             `yaml:"parallel_trial_count"`
}

// ParseJobSpec は YAML を読み込みます。未知のキーはエラーです。
// 検証は行いません。Validate を呼んでください。
func ParseJobSpec(r io.Reader) (*JobSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec JobSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.NewValueError("ParseJobSpec", "empty job spec")
		}
		return nil, errors.Wrap(err, "decode job spec")
	}
	return &spec, nil
}

// LoadJobSpec は fs 上の path から JobSpec を読み込み、検証します。
func LoadJobSpec(fs afero.Fs, path string) (*JobSpec, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read job spec %s", path)
	}
	spec, err := ParseJobSpec(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return spec, nil
}

// Marshal は JobSpec を YAML に変換します。
func (s *JobSpec) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode job spec")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode job spec")
	}
	return buf.Bytes(), nil
}

// Validate は設定を検証し、最初に見つかった問題を ValidationError で返します。
func (s *JobSpec) Validate() error {
	if s.Metric.ID == "" {
		return errors.NewValidationError("metric.id", "must not be empty", s.Metric.ID)
	}
	switch s.Metric.Goal {
	case GoalMinimize, GoalMaximize:
	default:
		return errors.NewValidationError("metric.goal", "must be MINIMIZE or MAXIMIZE", s.Metric.Goal)
	}

	switch s.Algorithm {
	case AlgorithmDefault, AlgorithmUnspecified, AlgorithmGrid, AlgorithmRandom:
	default:
		return errors.NewValidationError("algorithm", "unknown search algorithm", s.Algorithm)
	}

	if s.MaxTrialCount <= 0 {
		return errors.NewValidationError("max_trial_count", "must be positive", s.MaxTrialCount)
	}
	if s.ParallelTrialCount <= 0 {
		return errors.NewValidationError("parallel_trial_count", "must be positive", s.ParallelTrialCount)
	}
	if s.ParallelTrialCount > s.MaxTrialCount {
		return errors.NewValidationError("parallel_trial_count", "must not exceed max_trial_count", s.ParallelTrialCount)
	}

	if len(s.Parameters) == 0 {
		return errors.NewValidationError("parameters", "at least one parameter is required", 0)
	}
	seen := make(map[string]bool, len(s.Parameters))
	for i := range s.Parameters {
		p := &s.Parameters[i]
		if seen[p.ID] {
			return errors.NewValidationError("parameters", "duplicate parameter id", p.ID)
		}
		seen[p.ID] = true
		if err := p.validate(s.Algorithm); err != nil {
			return err
		}
	}
	return nil
}

func (p *ParameterSpec) validate(algorithm string) error {
	name := "parameters." + p.ID
	if p.ID == "" {
		return errors.NewValidationError("parameters", "parameter id must not be empty", p.ID)
	}
	kind, ok := TunableFlags[p.ID]
	if !ok {
		return errors.NewValidationError(name, "not a trainer flag", p.ID)
	}
	if !compatible(kind, p.Type) {
		return errors.NewValidationError(name, "type does not match the flag ("+kind+")", p.Type)
	}

	switch p.Type {
	case ParamDouble:
		if algorithm == AlgorithmGrid {
			return errors.NewValidationError(name, "grid search does not support DOUBLE parameters", p.Type)
		}
		return p.validateRange(name)
	case ParamInteger:
		if p.Min != math.Trunc(p.Min) || p.Max != math.Trunc(p.Max) {
			return errors.NewValidationError(name, "integer bounds must be whole numbers", []float64{p.Min, p.Max})
		}
		return p.validateRange(name)
	case ParamDiscrete:
		if len(p.Values) == 0 {
			return errors.NewValidationError(name, "discrete values must not be empty", p.Values)
		}
		if !sort.Float64sAreSorted(p.Values) {
			return errors.NewValidationError(name, "discrete values must be in increasing order", p.Values)
		}
		for i := 1; i < len(p.Values); i++ {
			if p.Values[i] == p.Values[i-1] {
				return errors.NewValidationError(name, "discrete values must be distinct", p.Values[i])
			}
		}
	case ParamCategorical:
		if len(p.Categories) == 0 {
			return errors.NewValidationError(name, "categories must not be empty", p.Categories)
		}
	default:
		return errors.NewValidationError(name, "unknown parameter type", p.Type)
	}
	return nil
}

// compatible は flag の値の種類に対してパラメータの型が使えるかを返します。
// 数値フラグは離散値でも指定できます。
func compatible(kind, paramType string) bool {
	switch kind {
	case ParamCategorical:
		return paramType == ParamCategorical
	case ParamInteger:
		return paramType == ParamInteger || paramType == ParamDiscrete
	default:
		return paramType == ParamDouble || paramType == ParamDiscrete
	}
}

func (p *ParameterSpec) validateRange(name string) error {
	if p.Min >= p.Max {
		return errors.NewValidationError(name, "min must be less than max", []float64{p.Min, p.Max})
	}
	switch p.Scale {
	case ScaleUnspecified, ScaleLinear:
	case ScaleLog, ScaleReverseLog:
		if p.Min <= 0 {
			return errors.NewValidationError(name, "log scale requires a positive min", p.Min)
		}
	default:
		return errors.NewValidationError(name, "unknown scale", p.Scale)
	}
	return nil
}

// Flags はトライアル起動時のコマンドライン引数名を返します（id の昇順）。
func (s *JobSpec) Flags() []string {
	flags := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		flags = append(flags, "--"+p.ID)
	}
	sort.Strings(flags)
	return flags
}
