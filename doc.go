// Package taxifare is a taxi-fare regressor trained one hyperparameter trial
// at a time under an external tuning controller.
//
// A trial reads sharded CSV trip records, turns each trip into scaled
// coordinates, a Euclidean distance and a hashed pickup/dropoff cross that
// indexes a learned embedding, trains a small dense network with Adam, and
// reports validation RMSE once per epoch to the controller.
//
// # Packages
//
//   - dataset: streaming shard loader (glob, shuffle buffer, prefetch)
//   - preprocessing: feature pipeline (scale, bucketize, hash cross, concat)
//   - neural: the regressor, its optimizer, checkpoints and servable export
//   - tuning: metric reporters and tuning-job configuration
//   - trainer: the per-trial orchestrator and its observers
//   - metrics: regression metrics on gonum vectors
//   - core/model, core/parallel: training state, persistence, row fan-out
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Quick Start
//
//	hp := trainer.DefaultHyperparameters()
//	hp.TrainPath = "data/taxi-train*"
//	hp.EvalPath = "data/taxi-valid*"
//	hp.OutputDir = "out/trial-1"
//
//	t := trainer.New(
//	    trainer.WithReporter(tuning.NewHypertuneReporter("", "1")),
//	    trainer.WithTrialID("1"),
//	)
//	result, err := t.Run(ctx, hp)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.ExportDir)
//
// The exported directory is loaded for serving with neural.LoadServable.
//
// # Command line
//
// cmd/taxifare-trainer wraps the same flow for the controller:
//
//	taxifare-trainer --train_data_path='data/taxi-train*' \
//	    --eval_data_path='data/taxi-valid*' --nbuckets=16 --nnsize='64 16 4'
//
// # Reproducibility
//
// Weight initialization and shuffling are seeded, the crossing hash is
// SpookyHash64 with seed 0, and evaluation reads a single unshuffled pass,
// so two trials with the same flags and seed report the same metrics.
package taxifare
