package neural

import (
	"math"
	"sort"
)

// Adam の既定値。
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-7
)

// Adam はパラメータごとに学習率を適応させる最適化手法です。
// モーメントはパラメータと同じ形の平坦なスライスで保持します。
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t       int
	moments map[string]*moment // パラメータ名 → モーメント
}

type moment struct {
	m, v []float64
}

// NewAdam は既定の β1, β2, ε で Adam を作成します。
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		moments:      make(map[string]*moment),
	}
}

// Steps returns the number of update steps applied so far.
func (a *Adam) Steps() int { return a.t }

// begin は1ステップ分のカウンタを進め、バイアス補正済みの学習率を返します。
func (a *Adam) begin() float64 {
	a.t++
	t := float64(a.t)
	return a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
}

func (a *Adam) momentFor(name string, size int) *moment {
	mo, ok := a.moments[name]
	if !ok {
		mo = &moment{m: make([]float64, size), v: make([]float64, size)}
		a.moments[name] = mo
	}
	return mo
}

// update は密なパラメータ全体を更新します。
func (a *Adam) update(lr float64, name string, param, grad []float64) {
	if len(param) == 0 {
		return
	}
	mo := a.momentFor(name, len(param))
	a.apply(lr, param, grad, mo.m, mo.v)
}

// updateRows は table の中で grads に現れた行だけを更新します（遅延 Adam）。
func (a *Adam) updateRows(lr float64, name string, table []float64, dim int, grads map[int][]float64) {
	if len(table) == 0 || len(grads) == 0 {
		return
	}
	mo := a.momentFor(name, len(table))

	ids := make([]int, 0, len(grads))
	for id := range grads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		lo, hi := id*dim, (id+1)*dim
		a.apply(lr, table[lo:hi], grads[id], mo.m[lo:hi], mo.v[lo:hi])
	}
}

func (a *Adam) apply(lr float64, param, grad, m, v []float64) {
	for i, g := range grad {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		param[i] -= lr * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
	}
}

// reset はモーメントとステップ数を捨てます。重みを復元したときに使います。
func (a *Adam) reset() {
	a.t = 0
	a.moments = make(map[string]*moment)
}
