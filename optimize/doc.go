// Package optimize minimizes smooth functions of many parameters.
//
// It provides [LBFGS], a limited-memory quasi-Newton minimizer, and
// [BacktrackingLineSearch], the sufficient-decrease line search it steps
// with. Both operate on a [Function], which owns its parameter vector:
// the optimizer reads parameters, proposes new ones with SetParameters and
// queries Value and Gradient at the point last set.
//
// # Usage
//
//	opt := optimize.NewLBFGS(optimize.DefaultConfig())
//	res, err := opt.Optimize(ctx, f, 500)
//	if err == nil && res.Status != optimize.Converged {
//	    // stopped early; f holds the best parameters found
//	}
package optimize
