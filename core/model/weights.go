package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"github.com/spf13/afero"
)

// ManifestVersion は書き出すサービング成果物の形式バージョン
const ManifestVersion = "1"

// ServableManifest はエクスポートされたモデルの説明（serving signature）
type ServableManifest struct {
	// ModelType はモデルの種類
	ModelType string `json:"model_type"`

	// Version は成果物の形式バージョン（互換性チェック用）
	Version string `json:"version"`

	// Inputs はサービング時に受け付ける入力列
	Inputs []string `json:"inputs"`

	// Output は予測値の名前
	Output string `json:"output"`

	// Features はモデルへ入力する特徴量の連結順
	Features []string `json:"features"`

	// NBuckets と HiddenUnits はネットワーク構造を決めるハイパーパラメータ
	NBuckets    int   `json:"nbuckets"`
	HiddenUnits []int `json:"hidden_units"`

	// CrossHash は特徴量クロスに使ったハッシュ関数名
	CrossHash string `json:"cross_hash"`

	// Training は書き出し時点の学習進捗
	Training TrainingState `json:"training"`

	// Metadata は追加のメタデータ（評価指標等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON はServableManifestをJSON形式にシリアライズ
func (m *ServableManifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON はJSON形式からServableManifestをデシリアライズ
func (m *ServableManifest) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// Validate はServableManifestの妥当性を検証
func (m *ServableManifest) Validate() error {
	switch {
	case m.ModelType == "":
		return errors.NewValidationError("model_type", "is required", m.ModelType)
	case m.Version != ManifestVersion:
		return errors.NewValidationError("version", "unsupported manifest version", m.Version)
	case len(m.Inputs) == 0:
		return errors.NewValidationError("inputs", "at least one input is required", m.Inputs)
	case m.NBuckets < 2:
		return errors.NewValidationError("nbuckets", "must be at least 2", m.NBuckets)
	case len(m.HiddenUnits) == 0:
		return errors.NewValidationError("hidden_units", "at least one hidden layer is required", m.HiddenUnits)
	}
	return nil
}

// WriteManifest はマニフェストをJSONファイルとして書き出す
func WriteManifest(fs afero.Fs, path string, m *ServableManifest) error {
	data, err := m.ToJSON()
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	return errors.WithStack(afero.WriteFile(fs, path, data, 0o644))
}

// ReadManifest はマニフェストを読み込み、検証する
func ReadManifest(fs afero.Fs, path string) (*ServableManifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}
	var m ServableManifest
	if err := m.FromJSON(data); err != nil {
		return nil, errors.Wrap(err, "failed to decode manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
