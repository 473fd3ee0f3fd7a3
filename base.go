package survinng

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// baseArgs is the validated, resolved input of the shared batch executor
type baseArgs struct {
	// 0-based resolved instance indices, order preserved
	instances []int
	// integration grid (a single point for the gradient method)
	grid []gridPoint
	// reference point per modality, 1 or len(instances) rows
	ref []*mat.Dense
	// second-order methods rescale by (instance - reference)
	secondOrder bool
	batchSize   int
	timesInput  bool
	includeTime bool
	dtype       Dtype
	preprocess  Preprocess
}

// runBase drives the model over the full cartesian set of (instance,
// grid-point) interpolated inputs in contiguous chunks of at most
// batchSize rows, accumulates quadrature-weighted target gradients per
// timepoint, and reshapes the totals into one (instances, features,
// timepoints) tensor per modality. Row order is instance-major, then
// grid-point order, so results are batch-size invariant up to
// floating-point summation order. The prediction at the unperturbed
// instances is computed in a separate pass, once per selected instance.
func (e *Explainer) runBase(ad *adapter, a baseArgs) ([]*AttributionTensor, *mat.Dense, error) {
	nSel := len(a.instances)
	nGrid := len(a.grid)
	nTime := ad.numTime()
	total := nSel * nGrid

	// dtype-cast copies of the selected instances, instance order preserved
	sel := make([]*mat.Dense, len(e.Data))
	for m, mod := range e.Data {
		_, c := mod.X.Dims()
		s := mat.NewDense(nSel, c, nil)
		for i, idx := range a.instances {
			for f := 0; f < c; f++ {
				s.Set(i, f, quantize(mod.X.At(idx, f), a.dtype))
			}
		}
		sel[m] = s
	}

	// reference rows aligned with the selected instances (for the
	// second-order rescale), and fully replicated rows per (instance,
	// grid-point) pair for interpolation
	refSel := make([]*mat.Dense, len(a.ref))
	for m, ref := range a.ref {
		rows, c := ref.Dims()
		rs := mat.NewDense(nSel, c, nil)
		for i := 0; i < nSel; i++ {
			src := 0
			if rows > 1 {
				src = i
			}
			for f := 0; f < c; f++ {
				rs.Set(i, f, quantize(ref.At(src, f), a.dtype))
			}
		}
		refSel[m] = rs
	}

	acc := make([]*AttributionTensor, len(e.Data))
	for m := range e.Data {
		_, c := e.Data[m].X.Dims()
		featOut := c
		names := append([]string(nil), e.Data[m].FeatureNames...)
		if e.Class == CoxTime && m == 0 && a.includeTime {
			featOut++
			if names != nil {
				names = append(names, "time")
			}
		}
		acc[m] = newAttributionTensor(nSel, featOut, nTime)
		acc[m].FeatureNames = names
	}

	for lo := 0; lo < total; lo += a.batchSize {
		hi := lo + a.batchSize
		if hi > total {
			hi = total
		}
		rows := hi - lo

		// interpolate x = ref + alpha*beta*(instance - ref), fresh per chunk
		batch := make([]*mat.Dense, len(e.Data))
		for m := range e.Data {
			_, c := e.Data[m].X.Dims()
			b := mat.NewDense(rows, c, nil)
			for r := 0; r < rows; r++ {
				global := lo + r
				i := global / nGrid
				gp := a.grid[global%nGrid]
				step := gp.alpha * gp.beta
				for f := 0; f < c; f++ {
					ref := refSel[m].At(i, f)
					v := ref + step*(sel[m].At(i, f)-ref)
					b.Set(r, f, quantize(v, a.dtype))
				}
			}
			batch[m] = b
		}
		if a.preprocess != nil {
			batch = a.preprocess(batch)
		}

		te, err := ad.eval(batch, true)
		if err != nil {
			return nil, nil, fmt.Errorf("batch rows %d-%d: %w", lo+1, hi, err)
		}
		for t := 0; t < nTime; t++ {
			for m, g := range te.grads[t] {
				gr, gc := g.Dims()
				_, wantC, _ := acc[m].Dims()
				if gr != rows || gc != wantC {
					return nil, nil, fmt.Errorf("batch rows %d-%d: gradient of modality %d has shape %dx%d, expected %dx%d",
						lo+1, hi, m+1, gr, gc, rows, wantC)
				}
				for r := 0; r < rows; r++ {
					global := lo + r
					i := global / nGrid
					w := a.grid[global%nGrid].weight
					for f := 0; f < gc; f++ {
						acc[m].add(i, f, t, w*g.At(r, f))
					}
				}
			}
		}
		e.logger.Debug("processed attribution batch",
			zap.Int("rows_from", lo+1), zap.Int("rows_to", hi), zap.Int("total_rows", total))
	}

	// Riemann-sum normalization: 1 for the gradient grid, n for the
	// bilinear grid
	norm := 1 / float64(nGrid)
	for m := range acc {
		for k := range acc[m].data {
			acc[m].data[k] *= norm
		}
	}

	// second-order path attribution carries the (instance - reference)
	// factor of the reparameterized path
	if a.secondOrder {
		for m := range acc {
			_, c, _ := acc[m].Dims()
			for i := 0; i < nSel; i++ {
				for f := 0; f < c; f++ {
					acc[m].scale(i, f, sel[m].At(i, f)-refSel[m].At(i, f))
				}
			}
		}
	}

	// gradient-times-input rescaling by the instance's own feature values;
	// the time covariate column, when kept, rescales by the timepoint
	if a.timesInput {
		for m := range acc {
			_, featOut, _ := acc[m].Dims()
			_, c := sel[m].Dims()
			for i := 0; i < nSel; i++ {
				for f := 0; f < c; f++ {
					acc[m].scale(i, f, sel[m].At(i, f))
				}
				for f := c; f < featOut; f++ {
					for t := 0; t < nTime; t++ {
						acc[m].set(i, f, t, acc[m].At(i, f, t)*quantize(ad.time[t], a.dtype))
					}
				}
			}
		}
	}

	pred, err := e.predict(ad, sel, a.batchSize)
	if err != nil {
		return nil, nil, err
	}
	return acc, pred, nil
}

// predict evaluates the target-transformed prediction at the true,
// unperturbed instances, chunked by batchSize
func (e *Explainer) predict(ad *adapter, sel []*mat.Dense, batchSize int) (*mat.Dense, error) {
	nSel, _ := sel[0].Dims()
	nTime := ad.numTime()
	pred := mat.NewDense(nSel, nTime, nil)

	for lo := 0; lo < nSel; lo += batchSize {
		hi := lo + batchSize
		if hi > nSel {
			hi = nSel
		}
		batch := make([]*mat.Dense, len(sel))
		for m := range sel {
			_, c := sel[m].Dims()
			batch[m] = mat.DenseCopyOf(sel[m].Slice(lo, hi, 0, c))
		}
		te, err := ad.eval(batch, false)
		if err != nil {
			return nil, fmt.Errorf("prediction rows %d-%d: %w", lo+1, hi, err)
		}
		for r := 0; r < hi-lo; r++ {
			for t := 0; t < nTime; t++ {
				pred.Set(lo+r, t, te.values.At(r, t))
			}
		}
	}
	return pred, nil
}
