package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Status is how an optimization run ended.
type Status int

const (
	// Converged means the value or the gradient stopped changing.
	Converged Status = iota
	// LineSearchFailed means no step along the search direction improved the value.
	LineSearchFailed
	// IterationLimit means the iteration cap was reached before convergence.
	IterationLimit
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case LineSearchFailed:
		return "line search failed"
	case IterationLimit:
		return "iteration limit reached"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Config holds L-BFGS settings.
type Config struct {
	Memory            int     // correction pairs kept
	Tolerance         float64 // relative change in value
	GradientTolerance float64 // infinity norm of the gradient
	Epsilon           float64 // guards the relative test near zero
	LineSearch        BacktrackingLineSearch
}

// DefaultConfig returns the standard L-BFGS settings.
func DefaultConfig() Config {
	return Config{
		Memory:            4,
		Tolerance:         1e-4,
		GradientTolerance: 1e-3,
		Epsilon:           1e-5,
		LineSearch:        DefaultLineSearch(),
	}
}

// Iteration is reported after every accepted step.
type Iteration struct {
	Number       int
	Value        float64
	GradientNorm float64
	Step         float64
}

// Result summarizes an Optimize call.
type Result struct {
	Status       Status
	Iterations   int
	Value        float64
	GradientNorm float64
}

// LBFGS minimizes a Function with the limited-memory BFGS update. Its
// history survives across Optimize calls on the same function; call Reset
// when the function changes shape or meaning.
type LBFGS struct {
	cfg Config

	// OnIteration, if set, is called after every accepted step.
	OnIteration func(Iteration)

	initialized bool
	x, g        []float64
	xOld, gOld  []float64
	value       float64
	iterations  int

	// correction pairs, oldest first
	s, y [][]float64
	rho  []float64
}

// NewLBFGS creates an optimizer. Zero-valued fields of cfg receive defaults.
func NewLBFGS(cfg Config) *LBFGS {
	def := DefaultConfig()
	if cfg.Memory <= 0 {
		cfg.Memory = def.Memory
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.GradientTolerance <= 0 {
		cfg.GradientTolerance = def.GradientTolerance
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.LineSearch.MaxIterations <= 0 {
		cfg.LineSearch = def.LineSearch
	}
	return &LBFGS{cfg: cfg}
}

// Reset discards the current point and correction history.
func (o *LBFGS) Reset() {
	o.initialized = false
	o.iterations = 0
	o.resetHistory()
}

func (o *LBFGS) resetHistory() {
	o.s, o.y, o.rho = nil, nil, nil
}

// HistoryLen returns the number of stored correction pairs.
func (o *LBFGS) HistoryLen() int { return len(o.s) }

func (o *LBFGS) evaluate(f Function) error {
	f.Parameters(o.x)
	v, err := f.Value()
	if err != nil {
		return err
	}
	if err := f.Gradient(o.g); err != nil {
		return err
	}
	if math.IsNaN(v) || floats.HasNaN(o.g) {
		return ErrNaN
	}
	o.value = v
	return nil
}

func (o *LBFGS) result(status Status) Result {
	return Result{
		Status:       status,
		Iterations:   o.iterations,
		Value:        o.value,
		GradientNorm: floats.Norm(o.g, math.Inf(1)),
	}
}

// Optimize runs at most maxIterations iterations on f. Line-search failure
// and the iteration cap are reported through Result.Status with f left at
// the best point found; errors are reserved for failures of f itself and
// for context cancellation.
func (o *LBFGS) Optimize(ctx context.Context, f Function, maxIterations int) (Result, error) {
	n := f.NumParameters()
	if !o.initialized || len(o.x) != n {
		o.x = make([]float64, n)
		o.g = make([]float64, n)
		o.xOld = make([]float64, n)
		o.gOld = make([]float64, n)
		o.resetHistory()
		o.iterations = 0
		if err := o.evaluate(f); err != nil {
			return Result{}, err
		}
		slog.Debug("L-BFGS initial point", "value", o.value, "gradient_norm", floats.Norm(o.g, math.Inf(1)))
		if floats.Norm(o.g, 2) == 0 {
			return o.result(Converged), nil
		}

		// Initial jump along the normalized steepest descent direction.
		d := make([]float64, n)
		floats.ScaleTo(d, -1/floats.Norm(o.g, 2), o.g)
		copy(o.xOld, o.x)
		copy(o.gOld, o.g)
		_, ok, err := o.cfg.LineSearch.Search(f, o.x, o.value, o.g, d)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			slog.Warn("L-BFGS line search could not take the initial step")
			return o.result(LineSearchFailed), nil
		}
		if err := o.evaluate(f); err != nil {
			return Result{}, err
		}
		o.push()
		o.initialized = true
	}

	d := make([]float64, n)
	for range maxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		o.direction(d)
		if floats.Dot(d, o.g) >= 0 {
			slog.Debug("L-BFGS direction not descending, resetting history")
			o.resetHistory()
			floats.ScaleTo(d, -1, o.g)
		}

		oldValue := o.value
		copy(o.xOld, o.x)
		copy(o.gOld, o.g)
		step, ok, err := o.cfg.LineSearch.Search(f, o.x, o.value, o.g, d)
		if err != nil {
			return Result{}, err
		}
		if !ok && len(o.s) > 0 {
			slog.Debug("L-BFGS line search failed, retrying along the gradient")
			o.resetHistory()
			floats.ScaleTo(d, -1, o.g)
			step, ok, err = o.cfg.LineSearch.Search(f, o.x, o.value, o.g, d)
			if err != nil {
				return Result{}, err
			}
		}
		if !ok {
			slog.Warn("L-BFGS line search failed, stopping", "iteration", o.iterations, "value", o.value)
			return o.result(LineSearchFailed), nil
		}
		if err := o.evaluate(f); err != nil {
			return Result{}, err
		}
		o.push()
		o.iterations++

		gnorm := floats.Norm(o.g, math.Inf(1))
		slog.Debug("L-BFGS iteration", "iteration", o.iterations, "value", o.value, "gradient_norm", gnorm, "step", step)
		if o.OnIteration != nil {
			o.OnIteration(Iteration{Number: o.iterations, Value: o.value, GradientNorm: gnorm, Step: step})
		}

		if 2*math.Abs(o.value-oldValue) <= o.cfg.Tolerance*(math.Abs(o.value)+math.Abs(oldValue)+o.cfg.Epsilon) {
			slog.Debug("L-BFGS converged on value", "iteration", o.iterations, "value", o.value)
			return o.result(Converged), nil
		}
		if gnorm < o.cfg.GradientTolerance {
			slog.Debug("L-BFGS converged on gradient", "iteration", o.iterations, "gradient_norm", gnorm)
			return o.result(Converged), nil
		}
	}
	return o.result(IterationLimit), nil
}

// push appends the correction pair of the last step, evicting the oldest
// beyond Memory. Pairs violating the curvature condition are skipped.
func (o *LBFGS) push() {
	n := len(o.x)
	s := floats.SubTo(make([]float64, n), o.x, o.xOld)
	y := floats.SubTo(make([]float64, n), o.g, o.gOld)
	sy := floats.Dot(s, y)
	if sy <= 0 || floats.Dot(y, y) == 0 {
		return
	}
	if len(o.s) == o.cfg.Memory {
		o.s, o.y, o.rho = o.s[1:], o.y[1:], o.rho[1:]
	}
	o.s = append(o.s, s)
	o.y = append(o.y, y)
	o.rho = append(o.rho, 1/sy)
}

// direction writes -H·g into d using the two-loop recursion.
func (o *LBFGS) direction(d []float64) {
	copy(d, o.g)
	k := len(o.s)
	alpha := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		alpha[i] = o.rho[i] * floats.Dot(o.s[i], d)
		floats.AddScaled(d, -alpha[i], o.y[i])
	}
	if k > 0 {
		last := k - 1
		gamma := floats.Dot(o.s[last], o.y[last]) / floats.Dot(o.y[last], o.y[last])
		floats.Scale(gamma, d)
	}
	for i := range k {
		beta := o.rho[i] * floats.Dot(o.y[i], d)
		floats.AddScaled(d, alpha[i]-beta, o.s[i])
	}
	floats.Scale(-1, d)
}
