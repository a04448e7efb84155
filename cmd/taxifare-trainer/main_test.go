package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "fare_amount,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count,key"

func writeTrips(t *testing.T, path string, n int) {
	t.Helper()
	lines := []string{header}
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf("%.1f,2013-01-01 00:00:00 UTC,%.3f,40.75,-73.98,%.3f,1,k%d",
			4.5+float64(i%6), -74.0+0.002*float64(i%9), 40.70+0.01*float64(i%7), i))
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func run(t *testing.T, getenv func(string) string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, getenv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestTrialCommand(t *testing.T) {
	dir := t.TempDir()
	writeTrips(t, filepath.Join(dir, "taxi-train.csv"), 40)
	writeTrips(t, filepath.Join(dir, "taxi-valid.csv"), 12)
	metrics := filepath.Join(dir, "hypertune", "output.metrics")
	modelDir := filepath.Join(dir, "model")

	code, stdout, stderr := run(t, env(map[string]string{
		EnvModelDir:   modelDir,
		EnvTrialID:    "4",
		EnvMetricFile: metrics,
	}),
		"--train_data_path", filepath.Join(dir, "taxi-train*"),
		"--eval_data_path", filepath.Join(dir, "taxi-valid*"),
		"--nnsize", "8 4",
		"--nbuckets", "5",
		"--batch_size", "10",
		"--num_evals", "2",
		"--num_examples_to_train_on", "40",
		"--log-file", os.DevNull,
	)
	require.Equal(t, 0, code, stderr)

	exportDir := strings.TrimSpace(stdout)
	assert.Equal(t, filepath.Join(modelDir, "savedmodel"), filepath.Dir(exportDir))
	_, err := os.Stat(filepath.Join(exportDir, "manifest.json"))
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"trial":"4"`)
	assert.Contains(t, lines[1], `"global_step":"1"`)

	code, stdout, stderr = run(t, env(nil),
		"predict", "--model_dir", exportDir, "--data_path", filepath.Join(dir, "taxi-valid*"))
	require.Equal(t, 0, code, stderr)
	rows := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, rows, 13)
	assert.Equal(t, "key,predicted_fare_amount", rows[0])
	assert.True(t, strings.HasPrefix(rows[1], "k0,"))
}

func TestTrialCommandFailures(t *testing.T) {
	dir := t.TempDir()
	writeTrips(t, filepath.Join(dir, "train.csv"), 10)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing train path", []string{"--eval_data_path", "x"}, "train_data_path"},
		{"bad nnsize", []string{"--train_data_path", "a", "--eval_data_path", "b", "--nnsize", "32 eight"}, "nnsize"},
		{"no eval shards", []string{"--train_data_path", filepath.Join(dir, "train.csv"), "--eval_data_path", filepath.Join(dir, "none*")}, "eval_data_path"},
		{"unknown flag", []string{"--dropout", "0.5"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "--output_dir", filepath.Join(dir, "out"), "--log-file", os.DevNull, "--report=false")
			code, _, stderr := run(t, env(nil), args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestValidateJobCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
metric: {id: rmse, goal: MINIMIZE}
parameters:
  - {id: lr, type: DOUBLE, min: 0.0001, max: 0.1, scale: UNIT_LOG_SCALE}
  - {id: nbuckets, type: INTEGER, min: 10, max: 25, scale: UNIT_LINEAR_SCALE}
  - {id: batch_size, type: DISCRETE, values: [15, 30, 50]}
max_trial_count: 10
parallel_trial_count: 2
`), 0o644))

	code, stdout, stderr := run(t, env(nil), "validate-job", good)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ok: MINIMIZE rmse, 3 parameters, 10 trials (2 parallel)")
	assert.Contains(t, stdout, "flags: --batch_size --lr --nbuckets")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
metric: {id: rmse, goal: MINIMIZE}
parameters:
  - {id: dropout, type: DOUBLE, min: 0.1, max: 0.5}
max_trial_count: 4
parallel_trial_count: 1
`), 0o644))
	code, _, stderr = run(t, env(nil), "validate-job", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "dropout")

	code, _, _ = run(t, env(nil), "validate-job")
	assert.Equal(t, 1, code)
}
