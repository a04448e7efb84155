package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerInterface(t *testing.T) {
	logger, buffer := NewTestLogger(LevelDebug)

	logger.Debug("debug message", "key1", "value1")
	logger.Info("info message", "key2", 42)
	logger.Warn("warning message", "key3", true)
	logger.Error("error message", errors.New("boom"), "key4", "value4")

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "DEBUG", entries[0]["level"])
	assert.Equal(t, "INFO", entries[1]["level"])
	assert.Equal(t, "WARN", entries[2]["level"])
	assert.Equal(t, "ERROR", entries[3]["level"])
	assert.Equal(t, "boom", entries[3][ErrAttrKey])
	assert.Equal(t, float64(42), entries[1]["key2"])
	assert.Contains(t, buffer.String(), "warning message")
}

func TestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	trialLogger := logger.With(TrialIDKey, "7", ComponentKey, "trainer")
	trialLogger.Info("Epoch finished", EpochKey, 2, RMSEKey, 4.5)

	assert.True(t, logger.ContainsField(TrialIDKey, "7"))
	assert.True(t, logger.ContainsField(ComponentKey, "trainer"))
	assert.True(t, logger.ContainsField(EpochKey, float64(2)))
	assert.True(t, logger.ContainsField(RMSEKey, 4.5))

	// Go ints match the float64 produced by JSON decoding.
	assert.True(t, logger.ContainsField(EpochKey, 2))
	assert.True(t, logger.ContainsField(EpochKey, int64(2)))
	assert.False(t, logger.ContainsField(EpochKey, "2"))
	assert.False(t, logger.ContainsField(EpochKey, 3))
}

func TestLoggerEnabled(t *testing.T) {
	logger, _ := NewTestLogger(LevelWarn)
	ctx := context.Background()

	assert.False(t, logger.Enabled(ctx, LevelDebug))
	assert.False(t, logger.Enabled(ctx, LevelInfo))
	assert.True(t, logger.Enabled(ctx, LevelWarn))
	assert.True(t, logger.Enabled(ctx, LevelError))

	logger.Info("hidden")
	logger.Warn("shown")
	assert.False(t, logger.ContainsMessage("hidden"))
	assert.True(t, logger.ContainsMessage("shown"))
}

func TestTrialAttributeKeys(t *testing.T) {
	keys := []string{
		TrialIDKey, OutputDirKey, ArtifactPathKey, StateKey,
		EpochKey, StepKey, StepsPerEpochKey, LossKey, RMSEKey,
		MetricNameKey, MetricValueKey, LearningRateKey, NBucketsKey,
		HiddenUnitsKey, NumEvalsKey, PatternKey, ShardsKey,
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.NotEmpty(t, k)
		assert.Contains(t, k, ".", "key %q should be hierarchical", k)
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONHandlerCloudLoggingFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(NewJSONHandler(&buf, slog.LevelDebug))

	logger.Error("Report failed", errors.New("metrics file unwritable"), MetricNameKey, "rmse")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "ERROR", entry["severity"])
	assert.Equal(t, "Report failed", entry["message"])
	assert.Equal(t, "rmse", entry[MetricNameKey])
	assert.Equal(t, "metrics file unwritable", entry[ErrAttrKey])
	assert.Contains(t, entry, "logging.googleapis.com/sourceLocation")
	assert.NotEmpty(t, entry[StacktraceAttrKey])
}

func TestSetupLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.log")

	logger, err := SetupLoggerWithFile("debug", path)
	require.NoError(t, err)
	logger.Debug("written to file", TrialIDKey, "3")

	_, err = SetupLoggerWithFile("loud", path)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(context.Background(), LevelError))
	logger.Error("dropped", errors.New("x"))
}

func TestConcurrentLogging(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := logger.With("worker", id)
			for i := 0; i < perWorker; i++ {
				l.Info("row", StepKey, i)
			}
		}(w)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, workers*perWorker)
	assert.Len(t, logger.EntriesWithMessage("row"), workers*perWorker)
}

func BenchmarkJSONHandler(b *testing.B) {
	var buf bytes.Buffer
	logger := NewLogger(NewJSONHandler(&buf, slog.LevelInfo))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		logger.Info("Epoch finished", EpochKey, i, RMSEKey, 3.14)
	}
	_ = strings.TrimSpace(buf.String())
}
