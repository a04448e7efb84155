package trainer

import (
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
)

// 出力ディレクトリ内の配置。
const (
	CheckpointSubdir  = "checkpoints"
	TensorboardSubdir = "tensorboard"
	SavedModelSubdir  = "savedmodel"

	// ExportTimeFormat は書き出し先ディレクトリ名の時刻書式です。
	ExportTimeFormat = "20060102150405"

	stagingPrefix = ".staging-"
)

// Artifacts はトライアルの出力先です。すべて OutputDir の下にあります。
type Artifacts struct {
	OutputDir      string
	CheckpointDir  string
	TensorboardDir string
	SavedModelDir  string
}

// NewArtifacts は outputDir 配下の配置を返します。ファイルシステムには触れません。
func NewArtifacts(outputDir string) Artifacts {
	return Artifacts{
		OutputDir:      outputDir,
		CheckpointDir:  filepath.Join(outputDir, CheckpointSubdir),
		TensorboardDir: filepath.Join(outputDir, TensorboardSubdir),
		SavedModelDir:  filepath.Join(outputDir, SavedModelSubdir),
	}
}

// Prepare は OutputDir を再帰的に削除し、空の出力ディレクトリを作り直します。
// 前回の試行の残骸はここで消えます。
func (a Artifacts) Prepare(fs afero.Fs) error {
	if err := fs.RemoveAll(a.OutputDir); err != nil {
		return errors.Wrapf(err, "clear output dir %s", a.OutputDir)
	}
	for _, dir := range []string{a.CheckpointDir, a.TensorboardDir, a.SavedModelDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

// ExportDir は時刻 t に対応する書き出し先です。
func (a Artifacts) ExportDir(t time.Time) string {
	return filepath.Join(a.SavedModelDir, t.UTC().Format(ExportTimeFormat))
}

// StagingDir は ExportDir に移す前の一時ディレクトリです。
func (a Artifacts) StagingDir(t time.Time) string {
	return filepath.Join(a.SavedModelDir, stagingPrefix+t.UTC().Format(ExportTimeFormat))
}
