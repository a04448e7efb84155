package neural

import (
	"path/filepath"

	"github.com/YuminosukeSato/taxifare/core/model"
	"github.com/YuminosukeSato/taxifare/dataset"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/YuminosukeSato/taxifare/pkg/log"
	"github.com/YuminosukeSato/taxifare/preprocessing"
	"github.com/spf13/afero"
)

// サービング成果物のファイル名。
const (
	ManifestFile  = "manifest.json"
	VariablesFile = "variables.gob"
	OutputName    = "fare_amount"
)

// Export はモデルを dir に書き出します。dir は存在しない場合に作成されます。
// 書き出した成果物は LoadServable だけで推論に使えます。
func (r *Regressor) Export(fs afero.Fs, dir string, metadata map[string]interface{}) error {
	if err := r.state.RequireFitted("Export"); err != nil {
		return err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create export dir %s", dir)
	}

	snap := r.Snapshot()
	if err := model.SaveGob(fs, filepath.Join(dir, VariablesFile), snap); err != nil {
		return err
	}

	manifest := &model.ServableManifest{
		ModelType:   ModelType,
		Version:     model.ManifestVersion,
		Inputs:      append([]string(nil), dataset.InputColumns...),
		Output:      OutputName,
		Features:    preprocessing.FeatureOrder(),
		NBuckets:    snap.NBuckets,
		HiddenUnits: snap.HiddenUnits,
		CrossHash:   snap.Crosser,
		Training:    snap.Training,
		Metadata:    metadata,
	}
	if err := model.WriteManifest(fs, filepath.Join(dir, ManifestFile), manifest); err != nil {
		return err
	}

	r.logger.Info("Model exported",
		log.OperationKey, log.OperationExport,
		log.ArtifactPathKey, dir,
		log.StepKey, snap.Training.GlobalStep,
	)
	return nil
}

// Servable は書き出されたモデルです。生の入力行から運賃を予測します。
type Servable struct {
	Manifest *model.ServableManifest
	model    *Regressor
}

// LoadServable は Export で書き出した dir を読み込みます。
func LoadServable(fs afero.Fs, dir string, opts ...Option) (*Servable, error) {
	manifest, err := model.ReadManifest(fs, filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	if manifest.ModelType != ModelType {
		return nil, errors.NewValidationError("model_type", "unsupported model type", manifest.ModelType)
	}

	var snap Snapshot
	if err := model.LoadGob(fs, filepath.Join(dir, VariablesFile), &snap); err != nil {
		return nil, err
	}
	reg, err := FromSnapshot(&snap, opts...)
	if err != nil {
		return nil, errors.NewModelError("LoadServable", "incompatible variables", err)
	}
	if manifest.CrossHash != reg.pipeline.Crosser().Name() {
		return nil, errors.NewValidationError("cross_hash", "servable was exported with a different crossing hash", manifest.CrossHash)
	}
	return &Servable{Manifest: manifest, model: reg}, nil
}

// Predict は生の入力行（ラベルと pickup_datetime, key は無視）から運賃を予測します。
func (s *Servable) Predict(records []dataset.RawRecord) ([]float64, error) {
	return s.model.PredictRecords(records)
}

// Model returns the underlying regressor.
func (s *Servable) Model() *Regressor { return s.model }
