package survinng

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Method labels reported in Result.Method
const (
	MethodGradient   = "Surv_Gradient"
	MethodIntHessian = "Surv_IntHessian"
)

// Resolved defaults for zero-valued args fields
const (
	defaultBatchSize = 1000
	defaultN         = 100
)

// Gradient computes plain gradient saliency: the gradient of the target
// quantity at each timepoint with respect to the input, evaluated at the
// selected instances themselves. All parameters are validated before any
// model evaluation; a validation or computation error aborts the call
// with no partial result.
func (e *Explainer) Gradient(args GradientArgs) (*Result, error) {
	target, batchSize, dtype, err := e.resolveCommon(args.Target, args.Instance, args.BatchSize, args.Dtype)
	if err != nil {
		return nil, err
	}
	if args.IncludeTime && e.Class != CoxTime {
		return nil, fmt.Errorf("include_time is only valid for CoxTime models, model_class is %s", e.Class)
	}
	if args.UseBaseHazard && e.Class == DeepHit {
		return nil, fmt.Errorf("use_base_hazard is only valid for CoxTime and DeepSurv models, model_class is %s", e.Class)
	}

	e.logger.Info("computing gradient attribution",
		zap.String("target", string(target)),
		zap.Int("instances", len(args.Instance)),
		zap.String("dtype", string(dtype)))

	castModel(e.Model, dtype)
	ad := newAdapter(e, target, args.UseBaseHazard, args.IncludeTime, dtype)

	res, pred, err := e.runBase(ad, baseArgs{
		instances:   zeroBased(args.Instance),
		grid:        gradientGrid(),
		ref:         meanReference(e.Data),
		secondOrder: false,
		batchSize:   batchSize,
		timesInput:  args.TimesInput,
		includeTime: args.IncludeTime,
		dtype:       dtype,
		preprocess:  args.Preprocess,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Res:    res,
		Pred:   pred,
		Time:   append([]float64(nil), e.timepoints()...),
		Method: MethodGradient,
		MethodArgs: MethodArgs{
			Target:        target,
			Instance:      append([]int(nil), args.Instance...),
			TimesInput:    args.TimesInput,
			UseBaseHazard: args.UseBaseHazard,
			BatchSize:     batchSize,
			IncludeTime:   args.IncludeTime,
			Dtype:         dtype,
		},
		CompetingRisks: false,
		ModelClass:     e.Class,
	}, nil
}

// IntegratedHessian computes the second-order path attribution of Janizek
// et al.'s Integrated Hessians construction, approximated by a first-order
// path integral along the bilinearly reparameterized path from a reference
// point to the instance: gradients at the sqrt(n) x sqrt(n) interpolation
// grid are weighted by alpha*beta, averaged over the n cells, and rescaled
// by (instance - reference).
func (e *Explainer) IntegratedHessian(args IntHessArgs) (*Result, error) {
	target, batchSize, dtype, err := e.resolveCommon(args.Target, args.Instance, args.BatchSize, args.Dtype)
	if err != nil {
		return nil, err
	}
	n := args.N
	if n == 0 {
		n = defaultN
	}
	grid, err := intHessGrid(n)
	if err != nil {
		return nil, err
	}

	ref := args.XRef
	if ref == nil {
		ref = meanReference(e.Data)
	} else {
		if err := validateReference(e.Data, ref, len(args.Instance)); err != nil {
			return nil, err
		}
		// the reference is owned by this call; never alias caller data
		copies := make([]*mat.Dense, len(ref))
		for m := range ref {
			copies[m] = mat.DenseCopyOf(ref[m])
		}
		ref = copies
	}

	e.logger.Info("computing integrated Hessian attribution",
		zap.String("target", string(target)),
		zap.Int("instances", len(args.Instance)),
		zap.Int("n", n),
		zap.String("dtype", string(dtype)))

	castModel(e.Model, dtype)
	ad := newAdapter(e, target, true, false, dtype)

	res, pred, err := e.runBase(ad, baseArgs{
		instances:   zeroBased(args.Instance),
		grid:        grid,
		ref:         ref,
		secondOrder: true,
		batchSize:   batchSize,
		timesInput:  args.TimesInput,
		dtype:       dtype,
		preprocess:  args.Preprocess,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Res:    res,
		Pred:   pred,
		Time:   append([]float64(nil), e.timepoints()...),
		Method: MethodIntHessian,
		MethodArgs: MethodArgs{
			Target:     target,
			Instance:   append([]int(nil), args.Instance...),
			TimesInput: args.TimesInput,
			BatchSize:  batchSize,
			N:          n,
			Dtype:      dtype,
		},
		CompetingRisks: false,
		ModelClass:     e.Class,
	}, nil
}

// resolveCommon applies defaults and validates the parameters shared by
// both attribution methods
func (e *Explainer) resolveCommon(target Target, instance []int, batchSize int, dtype Dtype) (Target, int, Dtype, error) {
	if target == "" {
		target = TargetSurvival
	}
	if err := validateTarget(e.Class, target); err != nil {
		return "", 0, "", err
	}
	if err := validateInstances(instance, e.NumInstances()); err != nil {
		return "", 0, "", err
	}
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	if batchSize < 1 {
		return "", 0, "", fmt.Errorf("batch_size must be a positive integer, got %d", batchSize)
	}
	if dtype == "" {
		dtype = DtypeFloat
	}
	if dtype != DtypeFloat && dtypeNotDouble(dtype) {
		return "", 0, "", fmt.Errorf("dtype must be 'float' or 'double', got %q", string(dtype))
	}
	return target, batchSize, dtype, nil
}

func dtypeNotDouble(d Dtype) bool { return d != DtypeDouble }

// validateTarget checks target membership for the model family
func validateTarget(class ModelClass, target Target) error {
	switch class {
	case CoxTime, DeepSurv:
		switch target {
		case TargetHazard, TargetCumHazard, TargetSurvival:
			return nil
		}
		return fmt.Errorf("target must be one of 'hazard', 'cum_hazard', 'survival' for %s, got %q", class, string(target))
	case DeepHit:
		switch target {
		case TargetPMF, TargetCIF, TargetSurvival:
			return nil
		}
		return fmt.Errorf("target must be one of 'pmf', 'cif', 'survival' for DeepHit, got %q", string(target))
	}
	return fmt.Errorf("model_class must be one of CoxTime, DeepSurv, DeepHit, got %d", int(class))
}

// validateInstances checks the 1-based instance selection against the
// stored instance axis; duplicates are allowed, order is preserved
func validateInstances(instance []int, n int) error {
	if len(instance) == 0 {
		return fmt.Errorf("instance must contain at least one index in [1, %d]", n)
	}
	for _, idx := range instance {
		if idx < 1 || idx > n {
			return fmt.Errorf("instance index must be in [1, %d], got %d", n, idx)
		}
	}
	return nil
}

func zeroBased(instance []int) []int {
	out := make([]int, len(instance))
	for i, idx := range instance {
		out[i] = idx - 1
	}
	return out
}
