package survinng

import "gonum.org/v1/gonum/mat"

// quantize rounds a value through the requested precision. "double" is the
// identity; "float" drops the value to single precision and back.
func quantize(v float64, d Dtype) float64 {
	if d == DtypeFloat {
		return float64(float32(v))
	}
	return v
}

// quantizeDense rounds every element of m in place. The matrix must be
// owned by the caller; stored explainer data is never passed here.
func quantizeDense(m *mat.Dense, d Dtype) {
	if d != DtypeFloat {
		return
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, float64(float32(m.At(i, j))))
		}
	}
}

// castModel asks the model to cast its own parameters when it knows how
func castModel(model DiffModel, d Dtype) {
	if pc, ok := model.(PrecisionCaster); ok {
		pc.CastTo(d)
	}
}
