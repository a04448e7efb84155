package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/taxifare/core/model"
	"github.com/YuminosukeSato/taxifare/neural"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
)

const (
	// CheckpointIndexFile は最新のチェックポイント名を持つファイルです。
	CheckpointIndexFile = "checkpoint"

	// DefaultMaxToKeep は残すチェックポイントの数です。
	DefaultMaxToKeep = 5
)

// CheckpointIndex は CheckpointIndexFile の内容です。
type CheckpointIndex struct {
	Latest    string    `json:"model_checkpoint_path"`
	All       []string  `json:"all_model_checkpoint_paths"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointWriter はエポックごとにモデルの重みを gob で保存する Observer です。
// 保存後に index を書き換えるため、index が指すファイルは常に完全です。
type CheckpointWriter struct {
	BaseObserver

	fs        afero.Fs
	maxToKeep int
	now       func() time.Time

	dir   string
	index CheckpointIndex
}

// NewCheckpointWriter creates a CheckpointWriter. maxToKeep <= 0 keeps every checkpoint.
func NewCheckpointWriter(fs afero.Fs, maxToKeep int) *CheckpointWriter {
	return &CheckpointWriter{fs: fs, maxToKeep: maxToKeep, now: time.Now}
}

// CheckpointName はグローバルステップに対応するファイル名です。
func CheckpointName(globalStep int) string {
	return fmt.Sprintf("ckpt-%d.gob", globalStep)
}

// OnTrainBegin implements Observer.
func (w *CheckpointWriter) OnTrainBegin(env *TrainEnv) error {
	w.dir = env.Artifacts.CheckpointDir
	w.index = CheckpointIndex{}
	return w.fs.MkdirAll(w.dir, 0o755)
}

// OnEpochEnd implements Observer.
func (w *CheckpointWriter) OnEpochEnd(env *EpochEnv) error {
	name := CheckpointName(env.Result.GlobalStep)
	if err := model.SaveGob(w.fs, filepath.Join(w.dir, name), env.Model.Snapshot()); err != nil {
		return errors.Wrapf(err, "save checkpoint %s", name)
	}

	w.index.Latest = name
	w.index.All = append(w.index.All, name)
	w.index.UpdatedAt = w.now().UTC()

	var stale []string
	if w.maxToKeep > 0 && len(w.index.All) > w.maxToKeep {
		cut := len(w.index.All) - w.maxToKeep
		stale = append(stale, w.index.All[:cut]...)
		w.index.All = append([]string(nil), w.index.All[cut:]...)
	}

	if err := writeIndex(w.fs, w.dir, &w.index); err != nil {
		return err
	}
	for _, old := range stale {
		if err := w.fs.Remove(filepath.Join(w.dir, old)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove stale checkpoint %s", old)
		}
	}
	return nil
}

func writeIndex(fs afero.Fs, dir string, index *CheckpointIndex) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoint index")
	}
	path := filepath.Join(dir, CheckpointIndexFile)
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.WithStack(fs.Rename(tmp, path))
}

// ReadCheckpointIndex は dir の index を読み込みます。
func ReadCheckpointIndex(fs afero.Fs, dir string) (*CheckpointIndex, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, CheckpointIndexFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint index in %s", dir)
	}
	var index CheckpointIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint index")
	}
	if index.Latest == "" {
		return nil, errors.NewValueError("ReadCheckpointIndex", "index names no checkpoint")
	}
	return &index, nil
}

// LatestCheckpoint は dir の最新チェックポイントのパスを返します。
func LatestCheckpoint(fs afero.Fs, dir string) (string, error) {
	index, err := ReadCheckpointIndex(fs, dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, index.Latest), nil
}

// LoadCheckpoint はチェックポイントを読み込み、同じ構造のモデルを復元します。
func LoadCheckpoint(fs afero.Fs, path string, opts ...neural.Option) (*neural.Regressor, error) {
	var snap neural.Snapshot
	if err := model.LoadGob(fs, path, &snap); err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s", path)
	}
	return neural.FromSnapshot(&snap, opts...)
}
