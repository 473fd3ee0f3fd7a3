package survinng

import (
	"fmt"
	"math"
)

// gridPoint is one interpolation sample of the path integral between
// reference and instance. The interpolated input is
// x_ref + alpha*beta*(x_instance - x_ref); weight is the quadrature
// weight of the cell.
type gridPoint struct {
	alpha, beta float64
	weight      float64
}

// gradientGrid is the degenerate single-point grid of the plain gradient
// method: the instance itself, weight 1.
func gradientGrid() []gridPoint {
	return []gridPoint{{alpha: 1, beta: 1, weight: 1}}
}

// intHessGrid builds the bilinear integration grid for the integrated
// Hessian method: sqrt(n) interpolation steps per axis, n cells in total,
// cell (i, j) at (i/sqrt(n), j/sqrt(n)) with weight alpha*beta. The
// 1/n Riemann step normalization is applied once during aggregation, not
// here. n must be a positive perfect square so the per-axis step count is
// integral; anything else is rejected rather than silently rounded.
func intHessGrid(n int) ([]gridPoint, error) {
	if n < 1 {
		return nil, fmt.Errorf("n must be a positive perfect square (1, 4, 9, 16, ...), got %d", n)
	}
	root := int(math.Round(math.Sqrt(float64(n))))
	if root*root != n {
		return nil, fmt.Errorf("n must be a positive perfect square (1, 4, 9, 16, ...), got %d", n)
	}
	grid := make([]gridPoint, 0, n)
	for i := 1; i <= root; i++ {
		for j := 1; j <= root; j++ {
			alpha := float64(i) / float64(root)
			beta := float64(j) / float64(root)
			grid = append(grid, gridPoint{alpha: alpha, beta: beta, weight: alpha * beta})
		}
	}
	return grid, nil
}
