package optimize

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNotDescent is returned when the search direction does not decrease the function.
	ErrNotDescent = errors.New("optimize: direction is not a descent direction")

	// ErrNaN is returned when a function value or gradient is NaN.
	ErrNaN = errors.New("optimize: function returned NaN")
)

// Function is a differentiable function of its own parameter vector.
type Function interface {
	NumParameters() int
	Parameters(dst []float64)
	SetParameters(x []float64)
	Value() (float64, error)
	Gradient(dst []float64) error
}

// BacktrackingLineSearch finds a step along a descent direction satisfying
// the sufficient-decrease condition f(x+a·d) <= f(x) + Alpha·a·<g,d>.
// It starts at a = 1 and shrinks a by quadratic, then cubic interpolation
// of the last two trials, never by less than a factor of ten per trial.
type BacktrackingLineSearch struct {
	Alpha         float64 // sufficient-decrease constant
	StepMax       float64 // bound on |d| relative to max(|x|, n)
	RelTolX       float64 // minimum step relative to the parameter scale
	MaxIterations int
}

// DefaultLineSearch returns the standard line search settings.
func DefaultLineSearch() BacktrackingLineSearch {
	return BacktrackingLineSearch{
		Alpha:         1e-4,
		StepMax:       100,
		RelTolX:       1e-10,
		MaxIterations: 100,
	}
}

// Search moves f from x along d. On success f is left at the accepted point
// and the step length is returned with ok set. When no acceptable step
// exists above the minimum step, f is restored to x and ok is false. d may
// be rescaled in place when it is longer than the step bound.
func (ls BacktrackingLineSearch) Search(f Function, x []float64, fx float64, g, d []float64) (float64, bool, error) {
	n := len(x)
	slope := floats.Dot(g, d)
	if slope >= 0 || math.IsNaN(slope) {
		return 0, false, ErrNotDescent
	}

	stpmax := ls.StepMax * math.Max(floats.Norm(x, 2), float64(n))
	if norm := floats.Norm(d, 2); norm > stpmax {
		floats.Scale(stpmax/norm, d)
		slope = floats.Dot(g, d)
	}

	test := 0.0
	for i := range d {
		if t := math.Abs(d[i]) / math.Max(math.Abs(x[i]), 1); t > test {
			test = t
		}
	}
	if test == 0 {
		return 0, false, nil
	}
	alamin := ls.RelTolX / test

	xNew := make([]float64, n)
	alam, alam2, f2 := 1.0, 0.0, 0.0
	for it := 0; it < ls.MaxIterations; it++ {
		if alam < alamin {
			break
		}
		floats.AddScaledTo(xNew, x, alam, d)
		f.SetParameters(xNew)
		fNew, err := f.Value()
		if err != nil {
			f.SetParameters(x)
			return 0, false, err
		}
		if fNew <= fx+ls.Alpha*alam*slope {
			return alam, true, nil
		}

		var tmplam float64
		switch {
		case math.IsInf(fNew, 0) || math.IsNaN(fNew):
			tmplam = 0.2 * alam
		case it == 0:
			tmplam = -slope / (2 * (fNew - fx - slope))
		default:
			rhs1 := fNew - fx - alam*slope
			rhs2 := f2 - fx - alam2*slope
			a := (rhs1/(alam*alam) - rhs2/(alam2*alam2)) / (alam - alam2)
			b := (-alam2*rhs1/(alam*alam) + alam*rhs2/(alam2*alam2)) / (alam - alam2)
			if a == 0 {
				tmplam = -slope / (2 * b)
			} else {
				disc := b*b - 3*a*slope
				switch {
				case disc < 0:
					tmplam = 0.5 * alam
				case b <= 0:
					tmplam = (-b + math.Sqrt(disc)) / (3 * a)
				default:
					tmplam = -slope / (b + math.Sqrt(disc))
				}
			}
			if tmplam > 0.5*alam {
				tmplam = 0.5 * alam
			}
		}
		if math.IsNaN(tmplam) {
			tmplam = 0.5 * alam
		}
		alam2, f2 = alam, fNew
		alam = math.Max(tmplam, 0.1*alam)
	}
	f.SetParameters(x)
	return 0, false, nil
}
