package tuning

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
)

const (
	// DefaultMetricsPath はコントローラが読む既定の指標ファイルです。
	DefaultMetricsPath = "/tmp/hypertune/output.metrics"

	// MaxMetricEntries はファイルに残す最新の観測数です。
	MaxMetricEntries = 100
)

// HypertuneReporter はコントローラの指標ファイルに JSON 行を書きます。
//
// 各行は {"timestamp", "trial", "<metric>", "global_step"} を持ちます。timestamp は
// Unix 秒の数値、それ以外の値は文字列です。
// 報告のたびに最新 MaxMetricEntries 件でファイル全体を書き直します。
// 書き込みは一時ファイルとリネームで行うため、読み手が途中の状態を見ることはありません。
type HypertuneReporter struct {
	fs      afero.Fs
	path    string
	trialID string
	now     func() time.Time

	mu      sync.Mutex
	entries []map[string]interface{}
}

// HypertuneOption は HypertuneReporter の設定を変更します。
type HypertuneOption func(*HypertuneReporter)

// WithFs は書き込み先のファイルシステムを差し替えます。
func WithFs(fs afero.Fs) HypertuneOption {
	return func(h *HypertuneReporter) { h.fs = fs }
}

// WithClock は timestamp に使う時計を差し替えます。
func WithClock(now func() time.Time) HypertuneOption {
	return func(h *HypertuneReporter) { h.now = now }
}

// NewHypertuneReporter は path に書き込む Reporter を作成します。
// path が空なら DefaultMetricsPath を使います。
func NewHypertuneReporter(path, trialID string, opts ...HypertuneOption) *HypertuneReporter {
	if path == "" {
		path = DefaultMetricsPath
	}
	h := &HypertuneReporter{
		fs:      afero.NewOsFs(),
		path:    path,
		trialID: trialID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Path returns the metrics file path.
func (h *HypertuneReporter) Path() string { return h.path }

// TrialID returns the trial identity stamped on every entry.
func (h *HypertuneReporter) TrialID() string { return h.trialID }

// Report implements Reporter.
func (h *HypertuneReporter) Report(metric string, value float64, step int) error {
	if metric == "" {
		return errors.NewValidationError("metric", "must not be empty", metric)
	}
	if metric == "timestamp" || metric == "trial" || metric == "global_step" {
		return errors.NewValidationError("metric", "collides with a reserved key", metric)
	}

	entry := map[string]interface{}{
		"timestamp":   float64(h.now().UnixNano()) / 1e9,
		"trial":       h.trialID,
		metric:        strconv.FormatFloat(value, 'g', -1, 64),
		"global_step": strconv.Itoa(step),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > MaxMetricEntries {
		h.entries = h.entries[len(h.entries)-MaxMetricEntries:]
	}
	return h.flush()
}

func (h *HypertuneReporter) flush() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range h.entries {
		if err := enc.Encode(e); err != nil {
			return errors.Wrap(err, "encode metric entry")
		}
	}

	if err := h.fs.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return errors.Wrapf(err, "create metrics dir for %s", h.path)
	}
	tmp := h.path + ".tmp"
	if err := afero.WriteFile(h.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := h.fs.Rename(tmp, h.path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}
