// Package log defines standard attribute keys for training operations.
//
// This file contains predefined attribute keys that keep trial logs
// consistent, so a tuning controller's log sink can filter on the same
// names across every trial of an experiment.
//
// Keys follow a hierarchical naming convention (e.g., "trial.id",
// "training.epoch").

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model being trained.
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "evaluate", "export", "report"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "dataset", "neural", "trainer", "tuning"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the trial lifecycle.
	PhaseKey = "ml.phase"

	// StateKey records an orchestrator state transition.
	StateKey = "trial.state"
)

// Trial identity
const (
	// TrialIDKey is the identity assigned to the trial by the execution environment.
	TrialIDKey = "trial.id"

	// OutputDirKey is the per-trial output root.
	OutputDirKey = "trial.output_dir"

	// ArtifactPathKey points at a file or directory written by the trial.
	ArtifactPathKey = "trial.artifact_path"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) processed.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the width of the model input vector.
	FeaturesKey = "data.features"

	// BatchSizeKey indicates the size of processing batches.
	BatchSizeKey = "data.batch_size"

	// ShardsKey indicates the number of input files matched by a pattern.
	ShardsKey = "data.shards"

	// PatternKey is the glob pattern used to find input shards.
	PatternKey = "data.pattern"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records the training loss (MSE).
	LossKey = "metrics.loss"

	// RMSEKey records root mean squared error on the evaluation set.
	RMSEKey = "metrics.rmse"

	// MetricNameKey is the name under which a value is reported to the tuner.
	MetricNameKey = "metrics.name"

	// MetricValueKey is the reported value.
	MetricValueKey = "metrics.value"

	// EpochKey records the current epoch number during training.
	EpochKey = "training.epoch"

	// StepKey records the global optimization step.
	StepKey = "training.step"

	// StepsPerEpochKey records how many optimization steps one epoch runs.
	StepsPerEpochKey = "training.steps_per_epoch"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// LearningRateKey records the optimizer learning rate.
	LearningRateKey = "hyperparams.learning_rate"

	// NBucketsKey records the number of bucket boundaries per coordinate.
	NBucketsKey = "hyperparams.nbuckets"

	// HiddenUnitsKey records the hidden layer widths.
	HiddenUnitsKey = "hyperparams.hidden_units"

	// NumEvalsKey records the epoch budget.
	NumEvalsKey = "hyperparams.num_evals"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute value constants.
const (
	OperationFit      = "fit"
	OperationEvaluate = "evaluate"
	OperationExport   = "export"
	OperationReport   = "report"
	OperationLoad     = "load"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseExport     = "export"

	ErrorReportFailed   = "REPORT_FAILED"
	ErrorObserverFailed = "OBSERVER_FAILED"
	ErrorInvalidInput   = "INVALID_INPUT"
)
