package main

import (
	"fmt"

	"github.com/YuminosukeSato/taxifare/pkg/log"
	"github.com/YuminosukeSato/taxifare/trainer"
	"github.com/YuminosukeSato/taxifare/tuning"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const defaultOutputDir = "taxifare_trained"

type trialFlags struct {
	batchSize    int
	evalPath     string
	trainPath    string
	nnsize       string
	nbuckets     int
	lr           float64
	numEvals     int
	numExamples  int
	outputDir    string
	seed         int64
	logLevel     string
	logFile      string
	metricFile   string
	trialID      string
	noObservers  bool
	reportToFile bool
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	defaults := trainer.DefaultHyperparameters()
	f := &trialFlags{}

	cmd := &cobra.Command{
		Use:           "taxifare-trainer",
		Short:         "train the taxi-fare regressor for one hyperparameter trial",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrial(cmd, f)
		},
	}

	outputDir := getenv(EnvModelDir)
	if outputDir == "" {
		outputDir = defaultOutputDir
	}
	metricFile := getenv(EnvMetricFile)
	if metricFile == "" {
		metricFile = tuning.DefaultMetricsPath
	}

	fl := cmd.Flags()
	fl.IntVar(&f.batchSize, "batch_size", defaults.BatchSize, "number of examples per training step")
	fl.StringVar(&f.evalPath, "eval_data_path", "", "glob pattern of evaluation shards (required)")
	fl.StringVar(&f.trainPath, "train_data_path", "", "glob pattern of training shards (required)")
	fl.StringVar(&f.nnsize, "nnsize", trainer.FormatLayerSizes(defaults.HiddenLayerSizes), "space-separated hidden layer widths")
	fl.IntVar(&f.nbuckets, "nbuckets", defaults.NBuckets, "number of buckets per coordinate")
	fl.Float64Var(&f.lr, "lr", defaults.LearningRate, "Adam learning rate")
	fl.IntVar(&f.numEvals, "num_evals", defaults.NumEvals, "number of epochs, each followed by an evaluation")
	fl.IntVar(&f.numExamples, "num_examples_to_train_on", defaults.NumExamplesToTrainOn, "total training examples across all epochs")
	fl.StringVar(&f.outputDir, "output_dir", outputDir, "trial output directory, cleared at start (default from "+EnvModelDir+")")
	fl.Int64Var(&f.seed, "seed", 0, "random seed for initialization and shuffling")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fl.StringVar(&f.logFile, "log-file", "", "write logs to this file with rotation (default stdout)")
	fl.StringVar(&f.metricFile, "metric-file", metricFile, "tuning controller metrics file (default from "+EnvMetricFile+")")
	fl.StringVar(&f.trialID, "trial-id", getenv(EnvTrialID), "trial identity (default from "+EnvTrialID+", random when unset)")
	fl.BoolVar(&f.noObservers, "no-events", false, "do not write checkpoints and event logs")
	fl.BoolVar(&f.reportToFile, "report", true, "write metrics to the controller metrics file")

	cmd.AddCommand(newValidateJobCmd(), newPredictCmd())
	return cmd
}

func (f *trialFlags) hyperparameters() (trainer.HyperparameterSet, error) {
	sizes, err := trainer.ParseLayerSizes(f.nnsize)
	if err != nil {
		return trainer.HyperparameterSet{}, err
	}
	hp := trainer.HyperparameterSet{
		BatchSize:            f.batchSize,
		NBuckets:             f.nbuckets,
		LearningRate:         f.lr,
		HiddenLayerSizes:     sizes,
		NumEvals:             f.numEvals,
		NumExamplesToTrainOn: f.numExamples,
		TrainPath:            f.trainPath,
		EvalPath:             f.evalPath,
		OutputDir:            f.outputDir,
	}
	return hp, hp.Validate()
}

func runTrial(cmd *cobra.Command, f *trialFlags) error {
	logger, err := log.SetupLoggerWithFile(f.logLevel, f.logFile)
	if err != nil {
		return err
	}

	hp, err := f.hyperparameters()
	if err != nil {
		logger.Error("Invalid trial configuration", err, log.ErrorCodeKey, log.ErrorInvalidInput)
		return err
	}

	trialID := f.trialID
	if trialID == "" {
		trialID = uuid.NewString()
	}

	reporters := tuning.MultiReporter{tuning.LogReporter{Logger: logger}}
	if f.reportToFile {
		reporters = append(reporters, tuning.NewHypertuneReporter(f.metricFile, trialID))
	}

	opts := []trainer.Option{
		trainer.WithReporter(reporters),
		trainer.WithLogger(logger),
		trainer.WithSeed(f.seed),
		trainer.WithTrialID(trialID),
	}
	if f.noObservers {
		opts = append(opts, trainer.WithoutDefaultObservers())
	}

	t := trainer.New(opts...)
	result, err := t.Run(cmd.Context(), hp)
	if err != nil {
		logger.Error("Trial failed", err, log.TrialIDKey, trialID, log.StateKey, t.State().String())
		return err
	}

	final, _ := result.Final()
	logger.Info("Trial finished",
		log.TrialIDKey, trialID,
		log.StateKey, result.State.String(),
		log.RMSEKey, final.ValRMSE,
		log.ArtifactPathKey, result.ExportDir,
	)
	fmt.Fprintln(cmd.OutOrStdout(), result.ExportDir)
	return nil
}
