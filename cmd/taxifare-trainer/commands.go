package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/neural"
	"github.com/YuminosukeSato/taxifare/tuning"
	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newValidateJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-job JOB_YAML",
		Short: "check a tuning-job configuration against the trainer's flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := tuning.LoadJobSpec(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			algorithm := spec.Algorithm
			if algorithm == tuning.AlgorithmDefault {
				algorithm = "BAYESIAN (default)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %s %s, %d parameters, %d trials (%d parallel), %s\n",
				spec.Metric.Goal, spec.Metric.ID, len(spec.Parameters),
				spec.MaxTrialCount, spec.ParallelTrialCount, algorithm)
			fmt.Fprintf(out, "flags: %s\n", strings.Join(spec.Flags(), " "))
			return nil
		},
	}
}

// prediction は predict の出力1行です。
type prediction struct {
	Key        string  `csv:"key"`
	FareAmount float64 `csv:"predicted_fare_amount"`
}

func newPredictCmd() *cobra.Command {
	var modelDir, dataPath string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "predict fares for CSV rows with an exported servable model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servable, err := neural.LoadServable(afero.NewOsFs(), modelDir)
			if err != nil {
				return err
			}
			rows, err := predictAll(cmd.Context(), servable, dataset.EvalLoader(dataPath, batchSize))
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := gocsv.Marshal(&rows, &buf); err != nil {
				return err
			}
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVar(&modelDir, "model_dir", "", "servable directory written by a trial (savedmodel/<timestamp>)")
	cmd.Flags().StringVar(&dataPath, "data_path", "", "glob pattern of CSV shards to score")
	cmd.Flags().IntVar(&batchSize, "batch_size", 1000, "rows per prediction batch")
	_ = cmd.MarkFlagRequired("model_dir")
	_ = cmd.MarkFlagRequired("data_path")
	return cmd
}

func predictAll(ctx context.Context, s *neural.Servable, loader *dataset.Loader) ([]prediction, error) {
	it, err := loader.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []prediction
	for {
		b, err := it.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		fares, err := s.Predict(b.Records)
		if err != nil {
			return nil, err
		}
		for i, rec := range b.Records {
			rows = append(rows, prediction{Key: rec.Key, FareAmount: fares[i]})
		}
	}
}
