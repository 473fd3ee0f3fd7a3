package survinng

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// LoadCSVMatrix loads a CSV file with a header row and float columns into
// an instance-major matrix plus the column names.
func LoadCSVMatrix(path string) (*mat.Dense, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("empty header in %s", path)
	}
	k := len(header)

	var (
		data []float64
		row  int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", row+2, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != k {
			return nil, nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, k, len(record))
		}
		for j, s := range record {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			data = append(data, v)
		}
		row++
	}
	if row == 0 {
		return nil, nil, fmt.Errorf("no data rows in %s", path)
	}
	return mat.NewDense(row, k, data), header, nil
}

// LoadBaselineHazardCSV loads a two-column (time, hazard) CSV with a
// header row into a validated baseline hazard table.
func LoadBaselineHazardCSV(path string) (*BaselineHazard, error) {
	m, header, err := LoadCSVMatrix(path)
	if err != nil {
		return nil, err
	}
	if len(header) != 2 {
		return nil, fmt.Errorf("baseline hazard CSV must have exactly two columns (time, hazard), got %d", len(header))
	}
	rows, _ := m.Dims()
	time := make([]float64, rows)
	hazard := make([]float64, rows)
	for i := 0; i < rows; i++ {
		time[i] = m.At(i, 0)
		hazard[i] = m.At(i, 1)
	}
	return NewBaselineHazard(time, hazard)
}

// WriteAttributionCSV writes the attribution tensors of a result in long
// format with one row per (modality, instance, feature, timepoint).
// Columns: Modality, Instance, Feature, Time, Value, Method, Target.
// Instance labels are the original 1-based selection.
func WriteAttributionCSV(path string, res *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Modality", "Instance", "Feature", "Time", "Value", "Method", "Target"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for m, tensor := range res.Res {
		nInst, nFeat, nTime := tensor.Dims()
		for i := 0; i < nInst; i++ {
			for f := 0; f < nFeat; f++ {
				name := fmt.Sprintf("V%d", f+1)
				if tensor.FeatureNames != nil {
					name = tensor.FeatureNames[f]
				}
				for t := 0; t < nTime; t++ {
					record := []string{
						fmt.Sprintf("%d", m+1),
						fmt.Sprintf("%d", res.MethodArgs.Instance[i]),
						name,
						fmt.Sprintf("%g", res.Time[t]),
						fmt.Sprintf("%g", tensor.At(i, f, t)),
						res.Method,
						string(res.MethodArgs.Target),
					}
					if err := writer.Write(record); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// WritePredictionCSV writes the prediction tensor of a result in long
// format. Columns: Instance, Time, Value, Target.
func WritePredictionCSV(path string, res *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Instance", "Time", "Value", "Target"}); err != nil {
		return err
	}
	rows, _ := res.Pred.Dims()
	for i := 0; i < rows; i++ {
		for t := range res.Time {
			record := []string{
				fmt.Sprintf("%d", res.MethodArgs.Instance[i]),
				fmt.Sprintf("%g", res.Time[t]),
				fmt.Sprintf("%g", res.Pred.At(i, t)),
				string(res.MethodArgs.Target),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// sequentialFile is the JSON layout of a saved Sequential model
type sequentialFile struct {
	InputWidths []int       `json:"input_widths"`
	Layers      []layerFile `json:"layers"`
}

type layerFile struct {
	In         int       `json:"in"`
	Out        int       `json:"out"`
	Activation string    `json:"activation"`
	Weights    []float64 `json:"weights"` // row-major (in, out)
	Bias       []float64 `json:"bias"`
}

// SaveSequential writes a Sequential model to a JSON file
func SaveSequential(path string, s *Sequential) error {
	sf := sequentialFile{InputWidths: s.InputWidths()}
	for _, l := range s.layers {
		weights := make([]float64, l.in*l.out)
		for i := 0; i < l.in; i++ {
			for j := 0; j < l.out; j++ {
				weights[i*l.out+j] = l.w.At(i, j)
			}
		}
		sf.Layers = append(sf.Layers, layerFile{
			In:         l.in,
			Out:        l.out,
			Activation: l.act.String(),
			Weights:    weights,
			Bias:       append([]float64(nil), l.b...),
		})
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSequential reads a Sequential model from a JSON file
func LoadSequential(path string) (*Sequential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var sf sequentialFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(sf.Layers) == 0 {
		return nil, fmt.Errorf("model file %s has no layers", path)
	}

	sizes := make([]int, len(sf.Layers))
	acts := make([]Activation, len(sf.Layers))
	for l, lf := range sf.Layers {
		sizes[l] = lf.Out
		act, err := ParseActivation(lf.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", l+1, err)
		}
		acts[l] = act
	}

	s, err := NewSequential(sf.InputWidths, sizes, acts, 0)
	if err != nil {
		return nil, err
	}
	for l, lf := range sf.Layers {
		layer := s.layers[l]
		if lf.In != layer.in || lf.Out != layer.out {
			return nil, fmt.Errorf("layer %d: declared shape %dx%d does not match architecture %dx%d",
				l+1, lf.In, lf.Out, layer.in, layer.out)
		}
		if len(lf.Weights) != lf.In*lf.Out {
			return nil, fmt.Errorf("layer %d: %d weights for a %dx%d layer", l+1, len(lf.Weights), lf.In, lf.Out)
		}
		if len(lf.Bias) != lf.Out {
			return nil, fmt.Errorf("layer %d: %d bias terms for %d outputs", l+1, len(lf.Bias), lf.Out)
		}
		for i := 0; i < lf.In; i++ {
			for j := 0; j < lf.Out; j++ {
				layer.w.Set(i, j, lf.Weights[i*lf.Out+j])
			}
		}
		copy(layer.b, lf.Bias)
	}
	return s, nil
}
