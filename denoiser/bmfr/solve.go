package bmfr

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// Blocks whose normal equations are worse conditioned than this use
	// the block mean instead of the fitted model.
	maxConditionNumber = 1e12

	// Features whose per-block range is below this are zeroed.
	minFeatureRange = 1e-6
)

// blockSystem accumulates the normal equations of a single block.
type blockSystem struct {
	ata *mat.SymDense
	atb [NumTargets]*mat.VecDense
	sum [NumTargets]float64
	n   int
}

func newBlockSystem() *blockSystem {
	s := &blockSystem{
		ata: mat.NewSymDense(NumFeatures, nil),
	}
	for c := range s.atb {
		s.atb[c] = mat.NewVecDense(NumFeatures, nil)
	}
	return s
}

// Add the equations contributed by a single pixel.
func (s *blockSystem) add(features *[NumFeatures]float64, targets *[NumTargets]float64) {
	for i := 0; i < NumFeatures; i++ {
		fi := features[i]
		if fi == 0 {
			continue
		}
		for j := i; j < NumFeatures; j++ {
			s.ata.SetSym(i, j, s.ata.At(i, j)+fi*features[j])
		}
		for c := 0; c < NumTargets; c++ {
			s.atb[c].SetVec(i, s.atb[c].AtVec(i)+fi*targets[c])
		}
	}
	for c := 0; c < NumTargets; c++ {
		s.sum[c] += targets[c]
	}
	s.n++
}

// Solve the regularized system and store the coefficients into weights,
// laid out as [channel][feature]. If the system cannot be solved reliably
// the weights encode the block mean and solve returns false.
func (s *blockSystem) solve(lambda float64, weights []float32) bool {
	for idx := range weights {
		weights[idx] = 0
	}
	if s.n == 0 {
		return false
	}

	bias := lambda * float64(s.n)
	for k := 0; k < NumFeatures; k++ {
		if k != FeatureConst {
			s.ata.SetSym(k, k, s.ata.At(k, k)+bias)
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(s.ata) && chol.Cond() <= maxConditionNumber {
		var w mat.VecDense
		solved := true
		for c := 0; c < NumTargets && solved; c++ {
			if err := chol.SolveVecTo(&w, s.atb[c]); err != nil {
				solved = false
				break
			}
			for k := 0; k < NumFeatures; k++ {
				v := float32(w.AtVec(k))
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					solved = false
					break
				}
				weights[c*NumFeatures+k] = v
			}
		}
		if solved {
			return true
		}
	}

	for idx := range weights {
		weights[idx] = 0
	}
	for c := 0; c < NumTargets; c++ {
		weights[c*NumFeatures+FeatureConst] = float32(s.sum[c] / float64(s.n))
	}
	return false
}
