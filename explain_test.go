package survinng

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// spyModel counts forward passes so tests can assert that validation
// failures never reach the model
type spyModel struct {
	*Sequential
	forwardCalls int
}

func (s *spyModel) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	s.forwardCalls++
	return s.Sequential.Forward(inputs)
}

func evenHazard(n int, h float64) *BaselineHazard {
	time := make([]float64, n)
	hazard := make([]float64, n)
	for i := range time {
		time[i] = float64(i + 1)
		hazard[i] = h
	}
	bh, err := NewBaselineHazard(time, hazard)
	if err != nil {
		panic(err)
	}
	return bh
}

// newDeepSurvFixture builds a 6-instance, 5-feature, 20-timepoint
// DeepSurv explainer with a deterministic tanh network
func newDeepSurvFixture(t *testing.T) *Explainer {
	t.Helper()
	model, err := NewSequential([]int{5}, []int{8, 1}, []Activation{ActTanh, ActLinear}, 21)
	require.NoError(t, err)
	data := []Modality{{
		X:            randMatrix(6, 5, 22),
		FeatureNames: []string{"age", "sex", "bmi", "bp", "chol"},
	}}
	e, err := NewExplainer(model, data, DeepSurv, WithBaselineHazard(evenHazard(20, 0.02)))
	require.NoError(t, err)
	return e
}

// newCoxTimeFixture builds a 4-instance, 3-feature, 5-timepoint CoxTime
// explainer; the model's first input width carries the extra time column
func newCoxTimeFixture(t *testing.T) *Explainer {
	t.Helper()
	model, err := NewSequential([]int{4}, []int{5, 1}, []Activation{ActTanh, ActLinear}, 41)
	require.NoError(t, err)
	data := []Modality{{
		X:            randMatrix(4, 3, 42),
		FeatureNames: []string{"x1", "x2", "x3"},
	}}
	e, err := NewExplainer(model, data, CoxTime, WithBaselineHazard(evenHazard(5, 0.1)))
	require.NoError(t, err)
	return e
}

// newDeepHitFixture builds a 5-instance, 3-feature, 10-bin DeepHit
// explainer with a softmax output head
func newDeepHitFixture(t *testing.T) *Explainer {
	t.Helper()
	model, err := NewSequential([]int{3}, []int{6, 10}, []Activation{ActTanh, ActSoftmax}, 31)
	require.NoError(t, err)
	data := []Modality{{X: randMatrix(5, 3, 32)}}
	bins := make([]float64, 10)
	for i := range bins {
		bins[i] = float64(i + 1)
	}
	e, err := NewExplainer(model, data, DeepHit, WithTimeBins(bins))
	require.NoError(t, err)
	return e
}

func TestGradientDeepSurvShapes(t *testing.T) {
	e := newDeepSurvFixture(t)
	res, err := e.Gradient(GradientArgs{Instance: []int{1, 3, 4}})
	require.NoError(t, err)

	require.Len(t, res.Res, 1)
	nI, nF, nT := res.Res[0].Dims()
	assert.Equal(t, 3, nI)
	assert.Equal(t, 5, nF)
	assert.Equal(t, 20, nT)
	assert.Equal(t, []string{"age", "sex", "bmi", "bp", "chol"}, res.Res[0].FeatureNames)

	pr, pc := res.Pred.Dims()
	assert.Equal(t, 3, pr)
	assert.Equal(t, 20, pc)
	assert.Len(t, res.Time, 20)
	assert.Equal(t, 1.0, res.Time[0])

	assert.Equal(t, MethodGradient, res.Method)
	assert.Equal(t, DeepSurv, res.ModelClass)
	assert.False(t, res.CompetingRisks)

	// defaults are resolved and echoed
	assert.Equal(t, TargetSurvival, res.MethodArgs.Target)
	assert.Equal(t, []int{1, 3, 4}, res.MethodArgs.Instance)
	assert.Equal(t, defaultBatchSize, res.MethodArgs.BatchSize)
	assert.Equal(t, DtypeFloat, res.MethodArgs.Dtype)
}

func TestGradientDeepSurvHazardShapes(t *testing.T) {
	for _, dtype := range []Dtype{DtypeFloat, DtypeDouble} {
		e := newDeepSurvFixture(t)
		res, err := e.Gradient(GradientArgs{Target: TargetHazard, Instance: []int{1, 3}, Dtype: dtype})
		require.NoError(t, err)
		nI, nF, nT := res.Res[0].Dims()
		assert.Equal(t, 2, nI)
		assert.Equal(t, 5, nF)
		assert.Equal(t, 20, nT)
		assert.Equal(t, dtype, res.MethodArgs.Dtype)
	}
}

// TestGradientDeepSurvFiniteDifference checks the hazard attribution
// against central finite differences of score(x)*h_t on the raw model.
func TestGradientDeepSurvFiniteDifference(t *testing.T) {
	e := newDeepSurvFixture(t)
	res, err := e.Gradient(GradientArgs{
		Target:        TargetHazard,
		Instance:      []int{2},
		UseBaseHazard: true,
		Dtype:         DtypeDouble,
	})
	require.NoError(t, err)

	score := func(x *mat.Dense) float64 {
		out, err := e.Model.Forward([]*mat.Dense{x})
		require.NoError(t, err)
		return out.At(0, 0)
	}

	const h = 1e-6
	row := mat.NewDense(1, 5, nil)
	for f := 0; f < 5; f++ {
		row.Set(0, f, e.Data[0].X.At(1, f))
	}
	base := score(row)
	for f := 0; f < 5; f++ {
		orig := row.At(0, f)
		row.Set(0, f, orig+h)
		up := score(row)
		row.Set(0, f, orig-h)
		down := score(row)
		row.Set(0, f, orig)
		dScore := (up - down) / (2 * h)

		for t0 := 0; t0 < 20; t0 += 7 {
			want := dScore * e.BaseHazard.Hazard[t0]
			assert.InDeltaf(t, want, res.Res[0].At(0, f, t0), 1e-5, "feature %d timepoint %d", f, t0)
		}
	}

	// prediction is the target-transformed value at the true instance
	for t0 := 0; t0 < 20; t0++ {
		assert.InDelta(t, base*e.BaseHazard.Hazard[t0], res.Pred.At(0, t0), 1e-12)
	}
}

func TestGradientHazardScalesWithBaseHazard(t *testing.T) {
	e := newDeepSurvFixture(t)
	args := GradientArgs{Target: TargetHazard, Instance: []int{1, 2}, Dtype: DtypeDouble}

	raw, err := e.Gradient(args)
	require.NoError(t, err)
	args.UseBaseHazard = true
	scaled, err := e.Gradient(args)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			for t0 := 0; t0 < 20; t0++ {
				want := raw.Res[0].At(i, f, t0) * e.BaseHazard.Hazard[t0]
				assert.InDelta(t, want, scaled.Res[0].At(i, f, t0), 1e-14)
			}
		}
	}
}

func TestGradientBatchSizeInvariance(t *testing.T) {
	e := newDeepSurvFixture(t)
	args := GradientArgs{Instance: []int{1, 2, 3, 4, 5, 6}, Dtype: DtypeDouble}

	args.BatchSize = 1
	small, err := e.Gradient(args)
	require.NoError(t, err)
	args.BatchSize = 1000
	big, err := e.Gradient(args)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		for f := 0; f < 5; f++ {
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, big.Res[0].At(i, f, t0), small.Res[0].At(i, f, t0), 1e-12)
			}
			assert.InDelta(t, big.Pred.At(i, 0), small.Pred.At(i, 0), 1e-12)
		}
	}
}

func TestIntHessBatchSizeInvariance(t *testing.T) {
	e := newDeepSurvFixture(t)
	args := IntHessArgs{Instance: []int{1, 4}, N: 4, Dtype: DtypeDouble}

	args.BatchSize = 3 // splits grid cells across chunks
	small, err := e.IntegratedHessian(args)
	require.NoError(t, err)
	args.BatchSize = 1000
	big, err := e.IntegratedHessian(args)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, big.Res[0].At(i, f, t0), small.Res[0].At(i, f, t0), 1e-12)
			}
		}
	}
}

func TestGradientTimesInput(t *testing.T) {
	e := newDeepSurvFixture(t)
	args := GradientArgs{Instance: []int{1, 3}, Dtype: DtypeDouble}

	plain, err := e.Gradient(args)
	require.NoError(t, err)
	args.TimesInput = true
	scaled, err := e.Gradient(args)
	require.NoError(t, err)

	rows := []int{0, 2}
	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			x := e.Data[0].X.At(rows[i], f)
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, plain.Res[0].At(i, f, t0)*x, scaled.Res[0].At(i, f, t0), 1e-14)
			}
		}
	}
}

func TestIntHessTimesInput(t *testing.T) {
	e := newDeepSurvFixture(t)
	args := IntHessArgs{Instance: []int{2, 6}, N: 4, Dtype: DtypeDouble}

	plain, err := e.IntegratedHessian(args)
	require.NoError(t, err)
	args.TimesInput = true
	scaled, err := e.IntegratedHessian(args)
	require.NoError(t, err)

	rows := []int{1, 5}
	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			x := e.Data[0].X.At(rows[i], f)
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, plain.Res[0].At(i, f, t0)*x, scaled.Res[0].At(i, f, t0), 1e-14)
			}
		}
	}
}

// TestIntHessSinglePoint checks the n=1 degenerate grid: one cell at the
// instance itself, so the result is the plain gradient rescaled by
// (instance - reference).
func TestIntHessSinglePoint(t *testing.T) {
	e := newDeepSurvFixture(t)

	grad, err := e.Gradient(GradientArgs{Instance: []int{2, 5}, Dtype: DtypeDouble})
	require.NoError(t, err)
	ih, err := e.IntegratedHessian(IntHessArgs{Instance: []int{2, 5}, N: 1, Dtype: DtypeDouble})
	require.NoError(t, err)

	ref := meanReference(e.Data)
	rows := []int{1, 4}
	distinct := false
	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			delta := e.Data[0].X.At(rows[i], f) - ref[0].At(0, f)
			for t0 := 0; t0 < 20; t0++ {
				g := grad.Res[0].At(i, f, t0)
				assert.InDelta(t, g*delta, ih.Res[0].At(i, f, t0), 1e-12)
				if math.Abs(g*delta-g) > 1e-9 {
					distinct = true
				}
			}
		}
	}
	// the rescale makes n=1 differ from the plain gradient
	assert.True(t, distinct)

	assert.Equal(t, MethodIntHessian, ih.Method)
	assert.Equal(t, 1, ih.MethodArgs.N)
}

func TestIntHessAtReferenceIsZero(t *testing.T) {
	e := newDeepSurvFixture(t)

	// per-instance reference equal to the instances themselves: the path
	// has zero length, every attribution vanishes
	ref := mat.NewDense(2, 5, nil)
	for f := 0; f < 5; f++ {
		ref.Set(0, f, e.Data[0].X.At(0, f))
		ref.Set(1, f, e.Data[0].X.At(2, f))
	}
	refCopy := mat.DenseCopyOf(ref)

	res, err := e.IntegratedHessian(IntHessArgs{
		Instance: []int{1, 3},
		N:        4,
		XRef:     []*mat.Dense{ref},
		Dtype:    DtypeDouble,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, 0.0, res.Res[0].At(i, f, t0), 1e-14)
			}
		}
	}
	// the caller's reference is never touched
	assert.True(t, mat.Equal(refCopy, ref))
}

func TestIntHessDefaults(t *testing.T) {
	e := newDeepSurvFixture(t)
	res, err := e.IntegratedHessian(IntHessArgs{Instance: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, defaultN, res.MethodArgs.N)
	assert.Equal(t, defaultBatchSize, res.MethodArgs.BatchSize)
	assert.Equal(t, TargetSurvival, res.MethodArgs.Target)
	assert.Equal(t, DtypeFloat, res.MethodArgs.Dtype)
}

func TestDeepHitCIF(t *testing.T) {
	e := newDeepHitFixture(t)
	res, err := e.Gradient(GradientArgs{Target: TargetCIF, Instance: []int{1, 3}, Dtype: DtypeDouble})
	require.NoError(t, err)

	nI, nF, nT := res.Res[0].Dims()
	assert.Equal(t, 2, nI)
	assert.Equal(t, 3, nF)
	assert.Equal(t, 10, nT)
	assert.Equal(t, TargetCIF, res.MethodArgs.Target)
	assert.Equal(t, DeepHit, res.ModelClass)

	// a softmax pmf is nonnegative, so the cif prediction is
	// nondecreasing over the bins and stays in [0, 1]
	for i := 0; i < 2; i++ {
		prev := 0.0
		for t0 := 0; t0 < 10; t0++ {
			v := res.Pred.At(i, t0)
			assert.GreaterOrEqual(t, v, prev-1e-12)
			assert.LessOrEqual(t, v, 1+1e-12)
			prev = v
		}
	}
}

func TestDeepHitSurvivalComplementsCIF(t *testing.T) {
	e := newDeepHitFixture(t)
	args := GradientArgs{Target: TargetCIF, Instance: []int{2}, Dtype: DtypeDouble}
	cif, err := e.Gradient(args)
	require.NoError(t, err)
	args.Target = TargetSurvival
	surv, err := e.Gradient(args)
	require.NoError(t, err)

	for t0 := 0; t0 < 10; t0++ {
		assert.InDelta(t, 1-cif.Pred.At(0, t0), surv.Pred.At(0, t0), 1e-12)
		for f := 0; f < 3; f++ {
			assert.InDelta(t, -cif.Res[0].At(0, f, t0), surv.Res[0].At(0, f, t0), 1e-12)
		}
	}
}

// TestDeepHitCIFFiniteDifference checks the bin-prefix-sum gradients
// against central finite differences of the summed pmf head.
func TestDeepHitCIFFiniteDifference(t *testing.T) {
	e := newDeepHitFixture(t)
	res, err := e.Gradient(GradientArgs{Target: TargetCIF, Instance: []int{2}, Dtype: DtypeDouble})
	require.NoError(t, err)

	cifAt := func(x *mat.Dense, upto int) float64 {
		out, err := e.Model.Forward([]*mat.Dense{x})
		require.NoError(t, err)
		sum := 0.0
		for k := 0; k <= upto; k++ {
			sum += out.At(0, k)
		}
		return sum
	}

	const h = 1e-6
	row := mat.NewDense(1, 3, nil)
	for f := 0; f < 3; f++ {
		row.Set(0, f, e.Data[0].X.At(1, f))
	}
	for _, t0 := range []int{0, 4, 9} {
		for f := 0; f < 3; f++ {
			orig := row.At(0, f)
			row.Set(0, f, orig+h)
			up := cifAt(row, t0)
			row.Set(0, f, orig-h)
			down := cifAt(row, t0)
			row.Set(0, f, orig)

			assert.InDeltaf(t, (up-down)/(2*h), res.Res[0].At(0, f, t0), 1e-5,
				"feature %d bin %d", f, t0)
		}
	}
}

func TestCoxTimeGradientShapes(t *testing.T) {
	e := newCoxTimeFixture(t)
	res, err := e.Gradient(GradientArgs{Instance: []int{1, 2}, Dtype: DtypeDouble})
	require.NoError(t, err)

	// the time covariate column is stripped by default
	nI, nF, nT := res.Res[0].Dims()
	assert.Equal(t, 2, nI)
	assert.Equal(t, 3, nF)
	assert.Equal(t, 5, nT)
	assert.Equal(t, []string{"x1", "x2", "x3"}, res.Res[0].FeatureNames)

	withTime, err := e.Gradient(GradientArgs{Instance: []int{1, 2}, IncludeTime: true, Dtype: DtypeDouble})
	require.NoError(t, err)
	_, nF, _ = withTime.Res[0].Dims()
	assert.Equal(t, 4, nF)
	assert.Equal(t, []string{"x1", "x2", "x3", "time"}, withTime.Res[0].FeatureNames)

	// the stripped columns agree with the include_time run
	for i := 0; i < 2; i++ {
		for f := 0; f < 3; f++ {
			for t0 := 0; t0 < 5; t0++ {
				assert.InDelta(t, res.Res[0].At(i, f, t0), withTime.Res[0].At(i, f, t0), 1e-14)
			}
		}
	}
}

// TestCoxTimeFiniteDifference checks the per-timepoint augmented forward
// passes: hazard gradients against finite differences of score(x, t)*h_t,
// and the survival prediction against exp of the summed score curve.
func TestCoxTimeFiniteDifference(t *testing.T) {
	e := newCoxTimeFixture(t)
	res, err := e.Gradient(GradientArgs{
		Target:        TargetHazard,
		Instance:      []int{3},
		UseBaseHazard: true,
		Dtype:         DtypeDouble,
	})
	require.NoError(t, err)

	score := func(x *mat.Dense, time float64) float64 {
		aug := mat.NewDense(1, 4, nil)
		for f := 0; f < 3; f++ {
			aug.Set(0, f, x.At(0, f))
		}
		aug.Set(0, 3, time)
		out, err := e.Model.Forward([]*mat.Dense{aug})
		require.NoError(t, err)
		return out.At(0, 0)
	}

	const h = 1e-6
	row := mat.NewDense(1, 3, nil)
	for f := 0; f < 3; f++ {
		row.Set(0, f, e.Data[0].X.At(2, f))
	}
	for t0 := 0; t0 < 5; t0++ {
		tv := e.BaseHazard.Time[t0]
		for f := 0; f < 3; f++ {
			orig := row.At(0, f)
			row.Set(0, f, orig+h)
			up := score(row, tv)
			row.Set(0, f, orig-h)
			down := score(row, tv)
			row.Set(0, f, orig)

			want := (up - down) / (2 * h) * e.BaseHazard.Hazard[t0]
			assert.InDeltaf(t, want, res.Res[0].At(0, f, t0), 1e-5, "feature %d timepoint %d", f, t0)
		}
	}

	surv, err := e.Gradient(GradientArgs{Instance: []int{3}, Dtype: DtypeDouble})
	require.NoError(t, err)
	acc := 0.0
	for t0 := 0; t0 < 5; t0++ {
		acc += score(row, e.BaseHazard.Time[t0]) * e.BaseHazard.Hazard[t0]
		assert.InDelta(t, math.Exp(-acc), surv.Pred.At(0, t0), 1e-10)
	}
}

func TestDtypeFloatMatchesDoubleLoosely(t *testing.T) {
	// separate fixtures: the float run quantizes the model in place
	double := newDeepSurvFixture(t)
	single := newDeepSurvFixture(t)

	rd, err := double.Gradient(GradientArgs{Instance: []int{1, 2}, Dtype: DtypeDouble})
	require.NoError(t, err)
	rf, err := single.Gradient(GradientArgs{Instance: []int{1, 2}, Dtype: DtypeFloat})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for f := 0; f < 5; f++ {
			for t0 := 0; t0 < 20; t0++ {
				assert.InDelta(t, rd.Res[0].At(i, f, t0), rf.Res[0].At(i, f, t0), 1e-3)
			}
		}
	}
}

func TestGradientDoesNotMutateData(t *testing.T) {
	e := newDeepSurvFixture(t)
	before := mat.DenseCopyOf(e.Data[0].X)

	_, err := e.Gradient(GradientArgs{Instance: []int{1, 2, 3}, TimesInput: true})
	require.NoError(t, err)
	_, err = e.IntegratedHessian(IntHessArgs{Instance: []int{1}, N: 4})
	require.NoError(t, err)

	assert.True(t, mat.Equal(before, e.Data[0].X))
}

func TestPreprocessHook(t *testing.T) {
	e := newDeepSurvFixture(t)
	calls := 0
	res, err := e.Gradient(GradientArgs{
		Instance:  []int{1, 2},
		BatchSize: 1,
		Dtype:     DtypeDouble,
		Preprocess: func(batch []*mat.Dense) []*mat.Dense {
			calls++
			require.Len(t, batch, 1)
			_, c := batch[0].Dims()
			assert.Equal(t, 5, c)
			return batch
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, calls)
}

func TestGradientValidation(t *testing.T) {
	model, err := NewSequential([]int{5}, []int{8, 1}, []Activation{ActTanh, ActLinear}, 21)
	require.NoError(t, err)
	spy := &spyModel{Sequential: model}
	e, err := NewExplainer(spy, []Modality{{X: randMatrix(6, 5, 22)}}, DeepSurv,
		WithBaselineHazard(evenHazard(20, 0.02)))
	require.NoError(t, err)

	cases := []struct {
		name string
		args GradientArgs
		want string
	}{
		{"wrong family target", GradientArgs{Target: TargetPMF, Instance: []int{1}}, "target must be one of"},
		{"unknown target", GradientArgs{Target: "saliency", Instance: []int{1}}, "target must be one of"},
		{"empty instance", GradientArgs{}, "at least one index"},
		{"zero index", GradientArgs{Instance: []int{0}}, "must be in [1, 6]"},
		{"out of range", GradientArgs{Instance: []int{7}}, "must be in [1, 6]"},
		{"negative batch size", GradientArgs{Instance: []int{1}, BatchSize: -1}, "batch_size must be a positive integer"},
		{"bad dtype", GradientArgs{Instance: []int{1}, Dtype: "float32"}, "dtype must be 'float' or 'double'"},
		{"include_time off-family", GradientArgs{Instance: []int{1}, IncludeTime: true}, "only valid for CoxTime"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Gradient(tc.args)
			assert.ErrorContains(t, err, tc.want)
		})
	}
	// every rejection happened before any model evaluation
	assert.Equal(t, 0, spy.forwardCalls)
}

func TestIntHessValidation(t *testing.T) {
	model, err := NewSequential([]int{5}, []int{8, 1}, []Activation{ActTanh, ActLinear}, 21)
	require.NoError(t, err)
	spy := &spyModel{Sequential: model}
	e, err := NewExplainer(spy, []Modality{{X: randMatrix(6, 5, 22)}}, DeepSurv,
		WithBaselineHazard(evenHazard(20, 0.02)))
	require.NoError(t, err)

	_, err = e.IntegratedHessian(IntHessArgs{Instance: []int{1}, N: 5})
	assert.ErrorContains(t, err, "perfect square")

	_, err = e.IntegratedHessian(IntHessArgs{Instance: []int{1}, N: -4})
	assert.ErrorContains(t, err, "perfect square")

	_, err = e.IntegratedHessian(IntHessArgs{Instance: []int{1}, N: 4,
		XRef: []*mat.Dense{mat.NewDense(1, 4, nil)}})
	assert.ErrorContains(t, err, "features")

	_, err = e.IntegratedHessian(IntHessArgs{Instance: []int{1, 2}, N: 4,
		XRef: []*mat.Dense{mat.NewDense(3, 5, nil)}})
	assert.ErrorContains(t, err, "rows")

	assert.Equal(t, 0, spy.forwardCalls)
}

func TestUseBaseHazardRejectedForDeepHit(t *testing.T) {
	e := newDeepHitFixture(t)
	_, err := e.Gradient(GradientArgs{Instance: []int{1}, UseBaseHazard: true})
	assert.ErrorContains(t, err, "only valid for CoxTime and DeepSurv")
}

func TestNewExplainerValidation(t *testing.T) {
	model, err := NewSequential([]int{5}, []int{8, 1}, []Activation{ActTanh, ActLinear}, 21)
	require.NoError(t, err)
	data := []Modality{{X: randMatrix(6, 5, 22)}}
	bh := evenHazard(20, 0.02)

	_, err = NewExplainer(nil, data, DeepSurv, WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "model must not be nil")

	_, err = NewExplainer(model, nil, DeepSurv, WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "at least one modality")

	_, err = NewExplainer(model, data, DeepSurv)
	assert.ErrorContains(t, err, "requires a baseline hazard")

	_, err = NewExplainer(model, data, ModelClass(9), WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "model_class must be one of")

	// modality width must match the model's declared input width
	_, err = NewExplainer(model, []Modality{{X: randMatrix(6, 4, 22)}}, DeepSurv, WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "input width")

	// ragged instance axis
	two := []Modality{{X: randMatrix(6, 5, 22)}, {X: randMatrix(5, 2, 23)}}
	model2, err := NewSequential([]int{5, 2}, []int{8, 1}, []Activation{ActTanh, ActLinear}, 21)
	require.NoError(t, err)
	_, err = NewExplainer(model2, two, DeepSurv, WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "share the instance axis")

	// feature name count must match the column count
	named := []Modality{{X: randMatrix(6, 5, 22), FeatureNames: []string{"a", "b"}}}
	_, err = NewExplainer(model, named, DeepSurv, WithBaselineHazard(bh))
	assert.ErrorContains(t, err, "feature names")

	// DeepHit bin count must match the output width
	hitModel, err := NewSequential([]int{3}, []int{6, 10}, []Activation{ActTanh, ActSoftmax}, 31)
	require.NoError(t, err)
	_, err = NewExplainer(hitModel, []Modality{{X: randMatrix(5, 3, 32)}}, DeepHit,
		WithTimeBins([]float64{1, 2, 3}))
	assert.ErrorContains(t, err, "output bins")

	// CoxTime width check accounts for the time column
	coxModel, err := NewSequential([]int{4}, []int{5, 1}, []Activation{ActTanh, ActLinear}, 41)
	require.NoError(t, err)
	_, err = NewExplainer(coxModel, []Modality{{X: randMatrix(4, 3, 42)}}, CoxTime,
		WithBaselineHazard(evenHazard(5, 0.1)))
	assert.NoError(t, err)
	_, err = NewExplainer(coxModel, []Modality{{X: randMatrix(4, 4, 42)}}, CoxTime,
		WithBaselineHazard(evenHazard(5, 0.1)))
	assert.ErrorContains(t, err, "input width")
}

func TestMultiModalGradient(t *testing.T) {
	model, err := NewSequential([]int{3, 2}, []int{6, 1}, []Activation{ActTanh, ActLinear}, 51)
	require.NoError(t, err)
	data := []Modality{
		{X: randMatrix(4, 3, 52)},
		{X: randMatrix(4, 2, 53)},
	}
	e, err := NewExplainer(model, data, DeepSurv, WithBaselineHazard(evenHazard(6, 0.05)))
	require.NoError(t, err)

	res, err := e.Gradient(GradientArgs{Instance: []int{1, 4}, Dtype: DtypeDouble})
	require.NoError(t, err)
	require.Len(t, res.Res, 2)

	nI, nF, nT := res.Res[0].Dims()
	assert.Equal(t, []int{2, 3, 6}, []int{nI, nF, nT})
	nI, nF, nT = res.Res[1].Dims()
	assert.Equal(t, []int{2, 2, 6}, []int{nI, nF, nT})
}
