package survinng

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DiffModel is the boundary to the differentiation engine. Forward runs the
// model on a batch of per-modality inputs and returns a (batch, outputs)
// matrix; Backward returns the gradient of sum(seed * output) with respect
// to the inputs of the most recent Forward call, one (batch, features)
// matrix per modality. Rows are independent, so seeding a single output
// column yields per-row gradients of that output. Both calls are blocking
// and synchronous; a failure aborts the attribution call.
type DiffModel interface {
	Forward(inputs []*mat.Dense) (*mat.Dense, error)
	Backward(seed *mat.Dense) ([]*mat.Dense, error)
	// NumOutputs is the width of the raw output (1 for CoxTime/DeepSurv
	// scores, the number of time bins for DeepHit)
	NumOutputs() int
	// InputWidths is the expected column count per input modality
	// (including the time covariate column for CoxTime models)
	InputWidths() []int
}

// PrecisionCaster is implemented by models that can cast their own
// parameters to a requested precision. The precision controller calls it
// when present; models without it are assumed dtype-agnostic.
type PrecisionCaster interface {
	CastTo(Dtype)
}

// adapter normalizes the forward/backward calling convention of one model
// family for a fixed (target, dtype) configuration. It maps raw model
// outputs onto the canonical time axis and combines raw gradients into
// target gradients via the chain rule.
type adapter struct {
	class ModelClass
	model DiffModel

	target Target
	time   []float64
	// baseline hazard aligned with time; nil for DeepHit
	baseHaz []float64
	cumHaz  []float64
	// hazard target skips the baseline-hazard factor when false
	useBaseHazard bool
	// CoxTime: keep the time covariate column in returned gradients
	includeTime bool
	dtype       Dtype
}

// targetEval is one batch evaluated on the canonical time axis
type targetEval struct {
	// (batch, timepoints) target-transformed values
	values *mat.Dense
	// grads[t][m] is the (batch, features_m) gradient of the target at
	// timepoint t with respect to modality m; nil when not requested
	grads [][]*mat.Dense
}

func newAdapter(e *Explainer, target Target, useBaseHazard, includeTime bool, dtype Dtype) *adapter {
	ad := &adapter{
		class:         e.Class,
		model:         e.Model,
		target:        target,
		time:          e.timepoints(),
		useBaseHazard: useBaseHazard,
		includeTime:   includeTime,
		dtype:         dtype,
	}
	if e.Class != DeepHit {
		ad.baseHaz = e.BaseHazard.Hazard
		ad.cumHaz = e.BaseHazard.CumHazard()
	}
	return ad
}

// numTime is the cardinality of the canonical time axis
func (ad *adapter) numTime() int { return len(ad.time) }

// eval runs the model on one batch and returns target-transformed values
// (and, when needGrads is set, target gradients) per timepoint
func (ad *adapter) eval(inputs []*mat.Dense, needGrads bool) (*targetEval, error) {
	switch ad.class {
	case DeepSurv:
		return ad.evalDeepSurv(inputs, needGrads)
	case CoxTime:
		return ad.evalCoxTime(inputs, needGrads)
	case DeepHit:
		return ad.evalDeepHit(inputs, needGrads)
	}
	return nil, fmt.Errorf("model_class must be one of CoxTime, DeepSurv, DeepHit, got %d", int(ad.class))
}

// hazardFactors returns the per-timepoint multiplier of the raw risk
// score for the hazard target
func (ad *adapter) hazardFactors() []float64 {
	if ad.useBaseHazard {
		return ad.baseHaz
	}
	return ones(len(ad.time))
}

// evalDeepSurv handles the time-independent risk-score family: one
// forward pass, one backward pass, per-timepoint scaling afterwards.
func (ad *adapter) evalDeepSurv(inputs []*mat.Dense, needGrads bool) (*targetEval, error) {
	out, err := ad.model.Forward(inputs)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	batch, width := out.Dims()
	if width != 1 {
		return nil, fmt.Errorf("forward pass: DeepSurv model returned %d outputs per row, expected 1", width)
	}

	var g []*mat.Dense
	if needGrads {
		seed := mat.NewDense(batch, 1, ones(batch))
		g, err = ad.model.Backward(seed)
		if err != nil {
			return nil, fmt.Errorf("backward pass: %w", err)
		}
	}

	nT := ad.numTime()
	te := &targetEval{values: mat.NewDense(batch, nT, nil)}

	// Per-timepoint scale of the score s and of its gradient:
	//   hazard:     s*f_t           grad: f_t * g
	//   cum_hazard: s*H_t           grad: H_t * g
	//   survival:   exp(-s*H_t)     grad: -H_t * exp(-s*H_t) * g
	// with H the cumulative baseline hazard and f the hazard factors.
	var factors []float64
	switch ad.target {
	case TargetHazard:
		factors = ad.hazardFactors()
	case TargetCumHazard, TargetSurvival:
		factors = ad.cumHaz
	default:
		return nil, fmt.Errorf("target %q is not valid for DeepSurv", ad.target)
	}

	for b := 0; b < batch; b++ {
		s := out.At(b, 0)
		for t := 0; t < nT; t++ {
			if ad.target == TargetSurvival {
				te.values.Set(b, t, math.Exp(-s*factors[t]))
			} else {
				te.values.Set(b, t, s*factors[t])
			}
		}
	}

	if needGrads {
		te.grads = make([][]*mat.Dense, nT)
		for t := 0; t < nT; t++ {
			te.grads[t] = make([]*mat.Dense, len(g))
			for m, gm := range g {
				r, c := gm.Dims()
				gt := mat.NewDense(r, c, nil)
				for b := 0; b < r; b++ {
					scale := factors[t]
					if ad.target == TargetSurvival {
						scale = -factors[t] * te.values.At(b, t)
					}
					for f := 0; f < c; f++ {
						gt.Set(b, f, scale*gm.At(b, f))
					}
				}
				te.grads[t][m] = gt
			}
		}
	}
	return te, nil
}

// evalCoxTime handles the time-dependent score family: the time covariate
// is appended to every row of the first modality, so the model is run once
// per timepoint (forward plus, when needed, one backward).
func (ad *adapter) evalCoxTime(inputs []*mat.Dense, needGrads bool) (*targetEval, error) {
	batch, feat := inputs[0].Dims()
	nT := ad.numTime()

	scores := mat.NewDense(batch, nT, nil)
	var rawGrads [][]*mat.Dense
	if needGrads {
		rawGrads = make([][]*mat.Dense, nT)
	}

	aug := mat.NewDense(batch, feat+1, nil)
	for t := 0; t < nT; t++ {
		tv := quantize(ad.time[t], ad.dtype)
		for b := 0; b < batch; b++ {
			for f := 0; f < feat; f++ {
				aug.Set(b, f, inputs[0].At(b, f))
			}
			aug.Set(b, feat, tv)
		}
		augInputs := append([]*mat.Dense{aug}, inputs[1:]...)

		out, err := ad.model.Forward(augInputs)
		if err != nil {
			return nil, fmt.Errorf("forward pass at timepoint %d: %w", t+1, err)
		}
		if _, w := out.Dims(); w != 1 {
			return nil, fmt.Errorf("forward pass: CoxTime model returned %d outputs per row, expected 1", w)
		}
		for b := 0; b < batch; b++ {
			scores.Set(b, t, out.At(b, 0))
		}

		if needGrads {
			seed := mat.NewDense(batch, 1, ones(batch))
			g, err := ad.model.Backward(seed)
			if err != nil {
				return nil, fmt.Errorf("backward pass at timepoint %d: %w", t+1, err)
			}
			// strip the time covariate column unless requested
			if !ad.includeTime {
				g0 := mat.DenseCopyOf(g[0].Slice(0, batch, 0, feat))
				g = append([]*mat.Dense{g0}, g[1:]...)
			}
			rawGrads[t] = g
		}
	}

	return ad.combineScoreCurves(scores, rawGrads)
}

// combineScoreCurves maps per-timepoint raw scores s_t (and gradients g_t)
// onto the requested target:
//
//	hazard:     s_t*f_t                    grad: f_t*g_t
//	cum_hazard: sum_{k<=t} s_k*h_k         grad: sum_{k<=t} h_k*g_k
//	survival:   exp(-cum_hazard_t)         grad: -surv_t * cum grad
func (ad *adapter) combineScoreCurves(scores *mat.Dense, rawGrads [][]*mat.Dense) (*targetEval, error) {
	batch, nT := scores.Dims()
	te := &targetEval{values: mat.NewDense(batch, nT, nil)}

	switch ad.target {
	case TargetHazard:
		f := ad.hazardFactors()
		for b := 0; b < batch; b++ {
			for t := 0; t < nT; t++ {
				te.values.Set(b, t, scores.At(b, t)*f[t])
			}
		}
		if rawGrads != nil {
			te.grads = scaleGradsPerTime(rawGrads, f)
		}
	case TargetCumHazard, TargetSurvival:
		for b := 0; b < batch; b++ {
			acc := 0.0
			for t := 0; t < nT; t++ {
				acc += scores.At(b, t) * ad.baseHaz[t]
				if ad.target == TargetSurvival {
					te.values.Set(b, t, math.Exp(-acc))
				} else {
					te.values.Set(b, t, acc)
				}
			}
		}
		if rawGrads != nil {
			cum := prefixSumGrads(scaleGradsPerTime(rawGrads, ad.baseHaz))
			if ad.target == TargetSurvival {
				for t := range cum {
					for _, g := range cum[t] {
						r, c := g.Dims()
						for b := 0; b < r; b++ {
							s := -te.values.At(b, t)
							for f := 0; f < c; f++ {
								g.Set(b, f, s*g.At(b, f))
							}
						}
					}
				}
			}
			te.grads = cum
		}
	default:
		return nil, fmt.Errorf("target %q is not valid for %s", ad.target, ad.class)
	}
	return te, nil
}

// evalDeepHit handles the discrete-time family: one forward pass yields
// the per-bin pmf, one backward pass per bin yields the raw gradients.
func (ad *adapter) evalDeepHit(inputs []*mat.Dense, needGrads bool) (*targetEval, error) {
	out, err := ad.model.Forward(inputs)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	batch, nT := out.Dims()
	if nT != ad.numTime() {
		return nil, fmt.Errorf("forward pass: DeepHit model returned %d bins, expected %d timepoints", nT, ad.numTime())
	}

	var rawGrads [][]*mat.Dense
	if needGrads {
		rawGrads = make([][]*mat.Dense, nT)
		for t := 0; t < nT; t++ {
			seed := mat.NewDense(batch, nT, nil)
			for b := 0; b < batch; b++ {
				seed.Set(b, t, 1)
			}
			g, err := ad.model.Backward(seed)
			if err != nil {
				return nil, fmt.Errorf("backward pass at bin %d: %w", t+1, err)
			}
			rawGrads[t] = g
		}
	}

	te := &targetEval{values: mat.NewDense(batch, nT, nil)}
	switch ad.target {
	case TargetPMF:
		te.values.Copy(out)
		te.grads = rawGrads
	case TargetCIF, TargetSurvival:
		for b := 0; b < batch; b++ {
			acc := 0.0
			for t := 0; t < nT; t++ {
				acc += out.At(b, t)
				if ad.target == TargetSurvival {
					te.values.Set(b, t, 1-acc)
				} else {
					te.values.Set(b, t, acc)
				}
			}
		}
		if needGrads {
			cum := prefixSumGrads(rawGrads)
			if ad.target == TargetSurvival {
				for t := range cum {
					for _, g := range cum[t] {
						g.Scale(-1, g)
					}
				}
			}
			te.grads = cum
		}
	default:
		return nil, fmt.Errorf("target %q is not valid for DeepHit", ad.target)
	}
	return te, nil
}

// scaleGradsPerTime multiplies every gradient at timepoint t by factor[t],
// returning fresh matrices
func scaleGradsPerTime(grads [][]*mat.Dense, factor []float64) [][]*mat.Dense {
	out := make([][]*mat.Dense, len(grads))
	for t := range grads {
		out[t] = make([]*mat.Dense, len(grads[t]))
		for m, g := range grads[t] {
			s := mat.DenseCopyOf(g)
			s.Scale(factor[t], s)
			out[t][m] = s
		}
	}
	return out
}

// prefixSumGrads returns running sums over the time axis: out[t] is the
// element-wise sum of grads[0..t], as fresh matrices
func prefixSumGrads(grads [][]*mat.Dense) [][]*mat.Dense {
	out := make([][]*mat.Dense, len(grads))
	for t := range grads {
		out[t] = make([]*mat.Dense, len(grads[t]))
		for m, g := range grads[t] {
			acc := mat.DenseCopyOf(g)
			if t > 0 {
				acc.Add(acc, out[t-1][m])
			}
			out[t][m] = acc
		}
	}
	return out
}
