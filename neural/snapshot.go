package neural

import (
	"github.com/YuminosukeSato/taxifare/core/model"
	"github.com/YuminosukeSato/taxifare/pkg/errors"
)

// LayerWeights は1層分の重みです。
type LayerWeights struct {
	In, Out int
	W       []float64 // 行優先 In × Out
	B       []float64
	ReLU    bool
}

// Snapshot はモデルの重みと学習進捗のコピーです（最適化の状態は含みません）。
// gob でチェックポイントとして保存されます。
type Snapshot struct {
	NBuckets     int
	HiddenUnits  []int
	LearningRate float64
	Crosser      string

	EmbeddingRows int
	EmbeddingDim  int
	Embedding     []float64
	Layers        []LayerWeights

	Training model.TrainingState
}

// Snapshot は現在の重みのディープコピーを返します。
func (r *Regressor) Snapshot() *Snapshot {
	s := &Snapshot{
		NBuckets:      r.pipeline.NBuckets(),
		HiddenUnits:   r.HiddenLayerSizes(),
		LearningRate:  r.learningRate,
		Crosser:       r.pipeline.Crosser().Name(),
		EmbeddingRows: r.embedding.Rows,
		EmbeddingDim:  r.embedding.Dim,
		Embedding:     append([]float64(nil), r.embedding.Weights.RawMatrix().Data...),
		Training:      r.state.GetState(),
	}
	for _, l := range r.layers {
		s.Layers = append(s.Layers, LayerWeights{
			In:   l.In,
			Out:  l.Out,
			W:    append([]float64(nil), l.W.RawMatrix().Data...),
			B:    append([]float64(nil), l.B...),
			ReLU: l.ReLU,
		})
	}
	return s
}

// Restore はスナップショットの重みをモデルに書き戻します。
// 構造（nbuckets, 隠れ層, クロス関数）が一致しない場合はエラーを返します。
// Adam のモーメントは初期化されます。
func (r *Regressor) Restore(s *Snapshot) error {
	if s == nil {
		return errors.NewValueError("Restore", "nil snapshot")
	}
	if s.NBuckets != r.pipeline.NBuckets() {
		return errors.NewValidationError("nbuckets", "snapshot was taken from a different topology", s.NBuckets)
	}
	if s.Crosser != r.pipeline.Crosser().Name() {
		return errors.NewValidationError("crosser", "snapshot was crossed with a different hash", s.Crosser)
	}
	if len(s.Layers) != len(r.layers) {
		return errors.NewDimensionError("Restore", len(r.layers), len(s.Layers), 0)
	}
	if len(s.Embedding) != len(r.embedding.Weights.RawMatrix().Data) {
		return errors.NewDimensionError("Restore", len(r.embedding.Weights.RawMatrix().Data), len(s.Embedding), 0)
	}
	for i, lw := range s.Layers {
		l := r.layers[i]
		if lw.In != l.In || lw.Out != l.Out || len(lw.W) != l.In*l.Out || len(lw.B) != l.Out {
			return errors.NewDimensionError("Restore", l.In*l.Out, len(lw.W), 1)
		}
	}

	copy(r.embedding.Weights.RawMatrix().Data, s.Embedding)
	for i, lw := range s.Layers {
		copy(r.layers[i].W.RawMatrix().Data, lw.W)
		copy(r.layers[i].B, lw.B)
	}
	r.state.SetState(s.Training)
	r.optimizer.reset()
	return nil
}

// FromSnapshot はスナップショットと同じ構造のモデルを組み立て、重みを復元します。
func FromSnapshot(s *Snapshot, opts ...Option) (*Regressor, error) {
	if s == nil {
		return nil, errors.NewValueError("FromSnapshot", "nil snapshot")
	}
	r, err := Build(s.NBuckets, s.HiddenUnits, s.LearningRate, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Restore(s); err != nil {
		return nil, err
	}
	return r, nil
}
