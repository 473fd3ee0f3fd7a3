package survinng

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation selects the element-wise nonlinearity of a dense layer.
// ActSoftmax normalizes each row into a probability distribution and is
// used as the output head of DeepHit models.
type Activation int

const (
	ActLinear Activation = iota
	ActTanh
	ActReLU
	ActSigmoid
	ActSoftmax
)

// String returns the activation name used in model files
func (a Activation) String() string {
	switch a {
	case ActLinear:
		return "linear"
	case ActTanh:
		return "tanh"
	case ActReLU:
		return "relu"
	case ActSigmoid:
		return "sigmoid"
	case ActSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

// ParseActivation maps an activation name to its Activation
func ParseActivation(s string) (Activation, error) {
	switch s {
	case "linear":
		return ActLinear, nil
	case "tanh":
		return ActTanh, nil
	case "relu":
		return ActReLU, nil
	case "sigmoid":
		return ActSigmoid, nil
	case "softmax":
		return ActSoftmax, nil
	}
	return 0, fmt.Errorf("activation must be one of 'linear', 'tanh', 'relu', 'sigmoid', 'softmax', got %q", s)
}

type denseLayer struct {
	in, out int
	// weights (in, out) and bias (out)
	w *mat.Dense
	b []float64
	// activation applied to the affine output
	act Activation
}

// Sequential is a dense feed-forward network implementing the DiffModel
// boundary with manual backpropagation. Multi-modal inputs are
// column-concatenated before the first layer and the input gradient is
// split back per modality. Forward caches pre- and post-activations so a
// subsequent Backward can replay the chain rule; Backward may be called
// repeatedly (with different seeds) against the same cached forward pass.
type Sequential struct {
	inputWidths []int
	layers      []denseLayer
	dtype       Dtype

	// forward cache
	concat *mat.Dense
	pre    []*mat.Dense
	post   []*mat.Dense
}

// NewSequential builds a dense network. inputWidths gives the column count
// of each input modality; sizes and acts give the output width and
// activation per layer. Weights use He-style initialization from the given
// seed, so construction is deterministic.
func NewSequential(inputWidths, sizes []int, acts []Activation, seed int64) (*Sequential, error) {
	if len(inputWidths) == 0 {
		return nil, fmt.Errorf("sequential: need at least one input modality")
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("sequential: need at least one layer")
	}
	if len(sizes) != len(acts) {
		return nil, fmt.Errorf("sequential: got %d layer sizes and %d activations", len(sizes), len(acts))
	}
	in := 0
	for m, w := range inputWidths {
		if w < 1 {
			return nil, fmt.Errorf("sequential: input width of modality %d must be positive, got %d", m+1, w)
		}
		in += w
	}

	rng := rand.New(rand.NewSource(seed))
	s := &Sequential{
		inputWidths: append([]int(nil), inputWidths...),
		dtype:       DtypeDouble,
	}
	for l, out := range sizes {
		if out < 1 {
			return nil, fmt.Errorf("sequential: size of layer %d must be positive, got %d", l+1, out)
		}
		stddev := math.Sqrt(2.0 / float64(in))
		w := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				w.Set(i, j, rng.NormFloat64()*stddev)
			}
		}
		s.layers = append(s.layers, denseLayer{
			in:  in,
			out: out,
			w:   w,
			b:   make([]float64, out),
			act: acts[l],
		})
		in = out
	}
	return s, nil
}

// InputWidths returns the expected column count per input modality
func (s *Sequential) InputWidths() []int {
	return append([]int(nil), s.inputWidths...)
}

// NumOutputs returns the width of the final layer
func (s *Sequential) NumOutputs() int {
	return s.layers[len(s.layers)-1].out
}

// CastTo switches the computation precision; casting to "float" also
// rounds the stored parameters through single precision
func (s *Sequential) CastTo(d Dtype) {
	s.dtype = d
	if d != DtypeFloat {
		return
	}
	for _, l := range s.layers {
		quantizeDense(l.w, d)
		for i := range l.b {
			l.b[i] = quantize(l.b[i], d)
		}
	}
}

// Forward runs the network on a batch and caches all intermediate
// activations for Backward
func (s *Sequential) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != len(s.inputWidths) {
		return nil, fmt.Errorf("sequential: expected %d input modalities, got %d", len(s.inputWidths), len(inputs))
	}
	batch := -1
	total := 0
	for m, x := range inputs {
		r, c := x.Dims()
		if c != s.inputWidths[m] {
			return nil, fmt.Errorf("sequential: modality %d has %d columns, expected %d", m+1, c, s.inputWidths[m])
		}
		if batch == -1 {
			batch = r
		} else if r != batch {
			return nil, fmt.Errorf("sequential: modality %d has %d rows, expected %d", m+1, r, batch)
		}
		total += c
	}

	x := mat.NewDense(batch, total, nil)
	off := 0
	for _, in := range inputs {
		_, c := in.Dims()
		for b := 0; b < batch; b++ {
			for f := 0; f < c; f++ {
				x.Set(b, off+f, quantize(in.At(b, f), s.dtype))
			}
		}
		off += c
	}

	s.concat = x
	s.pre = make([]*mat.Dense, len(s.layers))
	s.post = make([]*mat.Dense, len(s.layers))

	cur := x
	for l, layer := range s.layers {
		pre := mat.NewDense(batch, layer.out, nil)
		pre.Mul(cur, layer.w)
		for b := 0; b < batch; b++ {
			for o := 0; o < layer.out; o++ {
				pre.Set(b, o, quantize(pre.At(b, o)+layer.b[o], s.dtype))
			}
		}
		post := mat.NewDense(batch, layer.out, nil)
		if layer.act == ActSoftmax {
			softmaxRows(post, pre)
		} else {
			for b := 0; b < batch; b++ {
				for o := 0; o < layer.out; o++ {
					post.Set(b, o, activate(pre.At(b, o), layer.act))
				}
			}
		}
		quantizeDense(post, s.dtype)
		s.pre[l] = pre
		s.post[l] = post
		cur = post
	}
	return mat.DenseCopyOf(cur), nil
}

// Backward computes the gradient of sum(seed * output) with respect to the
// inputs of the most recent Forward call, one matrix per modality
func (s *Sequential) Backward(seed *mat.Dense) ([]*mat.Dense, error) {
	if s.concat == nil {
		return nil, fmt.Errorf("sequential: Backward called before Forward")
	}
	batch, _ := s.concat.Dims()
	sr, sc := seed.Dims()
	if sr != batch || sc != s.NumOutputs() {
		return nil, fmt.Errorf("sequential: seed has shape %dx%d, expected %dx%d", sr, sc, batch, s.NumOutputs())
	}

	grad := mat.DenseCopyOf(seed)
	for l := len(s.layers) - 1; l >= 0; l-- {
		layer := s.layers[l]
		pre := s.pre[l]

		gradPre := mat.NewDense(batch, layer.out, nil)
		if layer.act == ActSoftmax {
			// row-wise Jacobian-vector product: p * (g - <g, p>)
			p := s.post[l]
			for b := 0; b < batch; b++ {
				dot := 0.0
				for o := 0; o < layer.out; o++ {
					dot += grad.At(b, o) * p.At(b, o)
				}
				for o := 0; o < layer.out; o++ {
					gradPre.Set(b, o, p.At(b, o)*(grad.At(b, o)-dot))
				}
			}
		} else {
			for b := 0; b < batch; b++ {
				for o := 0; o < layer.out; o++ {
					gradPre.Set(b, o, grad.At(b, o)*activateDerivative(pre.At(b, o), layer.act))
				}
			}
		}

		gradIn := mat.NewDense(batch, layer.in, nil)
		gradIn.Mul(gradPre, layer.w.T())
		grad = gradIn
	}

	out := make([]*mat.Dense, len(s.inputWidths))
	off := 0
	for m, c := range s.inputWidths {
		out[m] = mat.DenseCopyOf(grad.Slice(0, batch, off, off+c))
		off += c
	}
	return out, nil
}

func activate(v float64, act Activation) float64 {
	switch act {
	case ActTanh:
		return math.Tanh(v)
	case ActReLU:
		if v > 0 {
			return v
		}
		return 0
	case ActSigmoid:
		return 1 / (1 + math.Exp(-v))
	default:
		return v
	}
}

func activateDerivative(v float64, act Activation) float64 {
	switch act {
	case ActTanh:
		th := math.Tanh(v)
		return 1 - th*th
	case ActReLU:
		if v > 0 {
			return 1
		}
		return 0
	case ActSigmoid:
		sig := 1 / (1 + math.Exp(-v))
		return sig * (1 - sig)
	default:
		return 1
	}
}

// softmaxRows writes the row-wise softmax of src into dst, with the usual
// max subtraction for stability
func softmaxRows(dst, src *mat.Dense) {
	r, c := src.Dims()
	for b := 0; b < r; b++ {
		maxV := src.At(b, 0)
		for o := 1; o < c; o++ {
			if src.At(b, o) > maxV {
				maxV = src.At(b, o)
			}
		}
		sum := 0.0
		for o := 0; o < c; o++ {
			e := math.Exp(src.At(b, o) - maxV)
			dst.Set(b, o, e)
			sum += e
		}
		for o := 0; o < c; o++ {
			dst.Set(b, o, dst.At(b, o)/sum)
		}
	}
}
