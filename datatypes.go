// Package survinng computes feature-attribution explanations for trained
// neural survival models. For a set of selected instances it produces one
// attribution curve per feature and timepoint, explaining how each input
// feature drives the model's predicted survival quantities over time.
package survinng

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// ModelClass identifies the survival model family being explained
type ModelClass int

// Supported model families
const (
	CoxTime ModelClass = iota
	DeepSurv
	DeepHit
)

// String returns the canonical family name
func (c ModelClass) String() string {
	switch c {
	case CoxTime:
		return "CoxTime"
	case DeepSurv:
		return "DeepSurv"
	case DeepHit:
		return "DeepHit"
	default:
		return fmt.Sprintf("ModelClass(%d)", int(c))
	}
}

// ParseModelClass maps a family name (case-sensitive, as reported by String)
// to its ModelClass
func ParseModelClass(s string) (ModelClass, error) {
	switch s {
	case "CoxTime", "coxtime":
		return CoxTime, nil
	case "DeepSurv", "deepsurv":
		return DeepSurv, nil
	case "DeepHit", "deephit":
		return DeepHit, nil
	}
	return 0, fmt.Errorf("model_class must be one of 'CoxTime', 'DeepSurv', 'DeepHit', got %q", s)
}

// Target is the model output quantity being explained
type Target string

// Targets for CoxTime and DeepSurv models
const (
	TargetHazard    Target = "hazard"
	TargetCumHazard Target = "cum_hazard"
	TargetSurvival  Target = "survival"
)

// Targets for DeepHit models (TargetSurvival is shared)
const (
	TargetPMF Target = "pmf"
	TargetCIF Target = "cif"
)

// Dtype selects the numeric precision used for all tensor computation.
// "float" rounds every value through single precision, "double" keeps
// full float64 precision. Shapes are unaffected either way.
type Dtype string

const (
	DtypeFloat  Dtype = "float"
	DtypeDouble Dtype = "double"
)

// Modality is one input block of the model: an instance-major matrix with
// one row per stored instance and one column per feature. Models with more
// than one input block (e.g. tabular + image features) carry one Modality
// per block, all with the same number of rows.
type Modality struct {
	// Data matrix, rows are instances
	X *mat.Dense
	// Optional feature names, one per column
	FeatureNames []string
}

// BaselineHazard is the (time, hazard) table estimated alongside CoxTime
// and DeepSurv models. Times must be strictly increasing and nonnegative,
// hazards nonnegative. Built with NewBaselineHazard.
type BaselineHazard struct {
	Time   []float64
	Hazard []float64
}

// Explainer bundles a trained model with the data it was trained on and
// the time-grid information of its family. It is created once and is
// read-only afterwards; independent attribution calls may share it.
type Explainer struct {
	// The model being explained
	Model DiffModel
	// Stored input data, one entry per input modality
	Data []Modality
	// Baseline hazard table (CoxTime, DeepSurv)
	BaseHazard *BaselineHazard
	// Discrete time bins (DeepHit)
	TimeBins []float64
	// Model family tag
	Class ModelClass

	logger *zap.Logger
}

// ExplainerOption configures optional Explainer fields
type ExplainerOption func(*Explainer)

// WithBaselineHazard attaches the baseline hazard table required by
// CoxTime and DeepSurv explainers
func WithBaselineHazard(bh *BaselineHazard) ExplainerOption {
	return func(e *Explainer) { e.BaseHazard = bh }
}

// WithTimeBins attaches the discrete time axis required by DeepHit
// explainers; its length must match the model's output width
func WithTimeBins(bins []float64) ExplainerOption {
	return func(e *Explainer) { e.TimeBins = append([]float64(nil), bins...) }
}

// WithLogger attaches a logger for batch progress; defaults to a nop logger
func WithLogger(l *zap.Logger) ExplainerOption {
	return func(e *Explainer) { e.logger = l }
}

// NewExplainer validates and builds an Explainer. It fails fast on a
// malformed bundle: missing model, empty or ragged data, a missing
// baseline hazard for CoxTime/DeepSurv, time bins that do not match the
// DeepHit model's output width, or modality widths that do not match the
// model's declared input widths.
func NewExplainer(model DiffModel, data []Modality, class ModelClass, opts ...ExplainerOption) (*Explainer, error) {
	e := &Explainer{Model: model, Data: data, Class: class}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NumInstances returns the number of stored instances
func (e *Explainer) NumInstances() int {
	r, _ := e.Data[0].X.Dims()
	return r
}

// timepoints returns the canonical time axis of the model family
func (e *Explainer) timepoints() []float64 {
	if e.Class == DeepHit {
		return e.TimeBins
	}
	return e.BaseHazard.Time
}

func (e *Explainer) validate() error {
	if e.Model == nil {
		return fmt.Errorf("explainer: model must not be nil")
	}
	switch e.Class {
	case CoxTime, DeepSurv, DeepHit:
	default:
		return fmt.Errorf("explainer: model_class must be one of CoxTime, DeepSurv, DeepHit, got %d", int(e.Class))
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("explainer: input_data must contain at least one modality")
	}
	n := -1
	for m, mod := range e.Data {
		if mod.X == nil {
			return fmt.Errorf("explainer: input_data modality %d is nil", m+1)
		}
		r, c := mod.X.Dims()
		if r < 1 || c < 1 {
			return fmt.Errorf("explainer: input_data modality %d must be non-empty, got %dx%d", m+1, r, c)
		}
		if n == -1 {
			n = r
		} else if r != n {
			return fmt.Errorf("explainer: all modalities must share the instance axis, modality %d has %d rows, expected %d", m+1, r, n)
		}
		if mod.FeatureNames != nil && len(mod.FeatureNames) != c {
			return fmt.Errorf("explainer: modality %d has %d feature names for %d columns", m+1, len(mod.FeatureNames), c)
		}
	}

	widths := e.Model.InputWidths()
	if len(widths) != len(e.Data) {
		return fmt.Errorf("explainer: model expects %d input modalities, data has %d", len(widths), len(e.Data))
	}
	for m, mod := range e.Data {
		_, c := mod.X.Dims()
		want := c
		// CoxTime models see the time covariate as an extra column on the
		// first (tabular) modality
		if e.Class == CoxTime && m == 0 {
			want = c + 1
		}
		if widths[m] != want {
			return fmt.Errorf("explainer: model input width of modality %d is %d, expected %d", m+1, widths[m], want)
		}
	}

	switch e.Class {
	case CoxTime, DeepSurv:
		if e.BaseHazard == nil {
			return fmt.Errorf("explainer: %s requires a baseline hazard table", e.Class)
		}
		if err := e.BaseHazard.validate(); err != nil {
			return err
		}
	case DeepHit:
		if len(e.TimeBins) == 0 {
			return fmt.Errorf("explainer: DeepHit requires a non-empty time_bins vector")
		}
		if e.Model.NumOutputs() != len(e.TimeBins) {
			return fmt.Errorf("explainer: DeepHit model has %d output bins, time_bins has length %d", e.Model.NumOutputs(), len(e.TimeBins))
		}
	}
	if e.Class == DeepSurv && e.Model.NumOutputs() != 1 {
		return fmt.Errorf("explainer: DeepSurv model must output a single risk score, got %d outputs", e.Model.NumOutputs())
	}
	if e.Class == CoxTime && e.Model.NumOutputs() != 1 {
		return fmt.Errorf("explainer: CoxTime model must output a single score per (input, time) pair, got %d outputs", e.Model.NumOutputs())
	}
	return nil
}

// Preprocess is an injectable hook applied to every grid-expanded input
// batch before the forward pass, e.g. to rescale or clamp interpolated
// rows. It must return fresh matrices and must not mutate its argument.
type Preprocess func(batch []*mat.Dense) []*mat.Dense

// GradientArgs are the parameters of Explainer.Gradient. Zero values
// resolve to defaults: Target "survival", BatchSize 1000, Dtype "float".
type GradientArgs struct {
	// Output quantity to explain (hazard/cum_hazard/survival for CoxTime
	// and DeepSurv, pmf/cif/survival for DeepHit)
	Target Target
	// 1-based indices into the stored instance axis; order preserved,
	// duplicates allowed
	Instance []int
	// Rescale the attribution by the instance's own feature values
	TimesInput bool
	// Multiply the hazard target by the baseline hazard (CoxTime,
	// DeepSurv); when false the raw risk score is attributed instead
	UseBaseHazard bool
	// Maximum number of rows per forward/backward pass
	BatchSize int
	// CoxTime only: keep the time covariate's attribution column
	IncludeTime bool
	// Numeric precision, "float" or "double"
	Dtype Dtype
	// Optional batch hook, see Preprocess
	Preprocess Preprocess
}

// IntHessArgs are the parameters of Explainer.IntegratedHessian. Zero
// values resolve to defaults: Target "survival", BatchSize 1000, N 100,
// Dtype "float".
type IntHessArgs struct {
	// Output quantity to explain
	Target Target
	// 1-based indices into the stored instance axis
	Instance []int
	// Rescale the attribution by the instance's own feature values
	TimesInput bool
	// Maximum number of rows per forward/backward pass
	BatchSize int
	// Number of integration grid cells; must be a positive perfect
	// square (the grid has sqrt(N) interpolation steps per axis)
	N int
	// Optional reference point, one matrix per modality with either a
	// single row (shared baseline) or len(Instance) rows (per-instance
	// baselines). Defaults to the per-feature mean of the stored data.
	XRef []*mat.Dense
	// Numeric precision, "float" or "double"
	Dtype Dtype
	// Optional batch hook, see Preprocess
	Preprocess Preprocess
}

// MethodArgs echoes the validated, resolved parameters of an attribution
// call. Fields that do not apply to a method keep their zero value
// (UseBaseHazard/IncludeTime for IntegratedHessian, N for Gradient).
type MethodArgs struct {
	Target        Target
	Instance      []int
	TimesInput    bool
	UseBaseHazard bool
	BatchSize     int
	IncludeTime   bool
	N             int
	Dtype         Dtype
}

// AttributionTensor is a dense (instances, features, timepoints) cube for
// one input modality
type AttributionTensor struct {
	data                []float64
	nInst, nFeat, nTime int
	// Feature names, one per feature axis entry (may be nil)
	FeatureNames []string
}

func newAttributionTensor(nInst, nFeat, nTime int) *AttributionTensor {
	return &AttributionTensor{
		data:  make([]float64, nInst*nFeat*nTime),
		nInst: nInst,
		nFeat: nFeat,
		nTime: nTime,
	}
}

// Dims returns (instances, features, timepoints)
func (a *AttributionTensor) Dims() (int, int, int) {
	return a.nInst, a.nFeat, a.nTime
}

// At returns the attribution of feature f for instance i at timepoint t
func (a *AttributionTensor) At(i, f, t int) float64 {
	return a.data[(i*a.nFeat+f)*a.nTime+t]
}

func (a *AttributionTensor) set(i, f, t int, v float64) {
	a.data[(i*a.nFeat+f)*a.nTime+t] = v
}

func (a *AttributionTensor) add(i, f, t int, v float64) {
	a.data[(i*a.nFeat+f)*a.nTime+t] += v
}

func (a *AttributionTensor) scale(i, f int, v float64) {
	base := (i*a.nFeat + f) * a.nTime
	for t := 0; t < a.nTime; t++ {
		a.data[base+t] *= v
	}
}

// Curve returns the attribution curve of feature f for instance i over
// all timepoints, as a fresh slice
func (a *AttributionTensor) Curve(i, f int) []float64 {
	base := (i*a.nFeat + f) * a.nTime
	out := make([]float64, a.nTime)
	copy(out, a.data[base:base+a.nTime])
	return out
}

// Result is the record produced by one attribution call. It is assembled
// fresh per call and never mutated afterwards.
type Result struct {
	// Attribution tensors, one per input modality
	Res []*AttributionTensor
	// Target-transformed prediction at the unperturbed instances,
	// shape (instances, timepoints)
	Pred *mat.Dense
	// Ordered timepoints shared by Res and Pred
	Time []float64
	// "Surv_Gradient" or "Surv_IntHessian"
	Method string
	// Echo of the validated call parameters
	MethodArgs MethodArgs
	// Always false for the families covered here
	CompetingRisks bool
	// Family of the explained model
	ModelClass ModelClass
}
