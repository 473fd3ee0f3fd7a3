package survinng

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// meanReference computes the default reference point: the per-feature mean
// of the stored data across the instance axis, one (1, features) matrix
// per modality. Output is always freshly allocated.
func meanReference(data []Modality) []*mat.Dense {
	refs := make([]*mat.Dense, len(data))
	for m, mod := range data {
		r, c := mod.X.Dims()
		means := make([]float64, c)
		col := make([]float64, r)
		for j := 0; j < c; j++ {
			mat.Col(col, j, mod.X)
			means[j] = stat.Mean(col, nil)
		}
		refs[m] = mat.NewDense(1, c, means)
	}
	return refs
}

// validateReference checks a user-supplied reference point against the
// explainer's modalities and the selected instance count. Each modality
// must have the matching feature count and either a single row (shared
// baseline) or nSelected rows (per-instance baselines).
func validateReference(data []Modality, xref []*mat.Dense, nSelected int) error {
	if len(xref) != len(data) {
		return fmt.Errorf("x_ref must have one matrix per modality, got %d for %d modalities", len(xref), len(data))
	}
	for m, ref := range xref {
		if ref == nil {
			return fmt.Errorf("x_ref modality %d is nil", m+1)
		}
		r, c := ref.Dims()
		_, want := data[m].X.Dims()
		if c != want {
			return fmt.Errorf("x_ref modality %d has %d features, expected %d", m+1, c, want)
		}
		if r != 1 && r != nSelected {
			return fmt.Errorf("x_ref modality %d must have 1 or %d rows, got %d", m+1, nSelected, r)
		}
	}
	return nil
}

// replicateReference expands a reference (1 or nSelected rows per
// modality) so that every (instance, grid-point) pair owns a row, in
// instance-major order. The replicas are fresh; caller-supplied data is
// never aliased or mutated.
func replicateReference(xref []*mat.Dense, nSelected, nGrid int) []*mat.Dense {
	total := nSelected * nGrid
	out := make([]*mat.Dense, len(xref))
	for m, ref := range xref {
		rows, c := ref.Dims()
		rep := mat.NewDense(total, c, nil)
		for i := 0; i < nSelected; i++ {
			src := 0
			if rows > 1 {
				src = i
			}
			for g := 0; g < nGrid; g++ {
				for f := 0; f < c; f++ {
					rep.Set(i*nGrid+g, f, ref.At(src, f))
				}
			}
		}
		out[m] = rep
	}
	return out
}
