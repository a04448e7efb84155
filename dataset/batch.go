package dataset

// Batch はラベル付きの行の集まりです。最後のバッチは BatchSize より短いことがあります。
type Batch struct {
	Records []RawRecord
	Labels  []float64
}

func newBatch(capacity int) *Batch {
	return &Batch{
		Records: make([]RawRecord, 0, capacity),
		Labels:  make([]float64, 0, capacity),
	}
}

func (b *Batch) add(r RawRecord) {
	b.Records = append(b.Records, r)
	b.Labels = append(b.Labels, r.FareAmount)
}

// Len はバッチの行数を返します。
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

