// Command taxifare-trainer runs one hyperparameter trial of the taxi-fare
// regressor, or validates a tuning-job configuration.
//
// The tuning controller launches one process per trial:
//
//	taxifare-trainer --train_data_path='gs-mount/taxi-train*' \
//	    --eval_data_path='gs-mount/taxi-valid*' \
//	    --nbuckets=16 --lr=0.003 --nnsize='64 16 4' --batch_size=32
//
// The process exits with status 1 on any fatal error.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// 実行環境から与えられる環境変数。
const (
	EnvModelDir   = "AIP_MODEL_DIR"
	EnvTrialID    = "CLOUD_ML_TRIAL_ID"
	EnvMetricFile = "CLOUD_ML_HP_METRIC_FILE"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute はコマンドを実行し、終了コードを返します。
func execute(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(getenv)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
