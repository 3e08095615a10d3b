package crf

import "math"

// Prior is a penalty on each trainable parameter, added to the negative
// log-likelihood being minimized.
type Prior interface {
	Penalty(w float64) float64
	Derivative(w float64) float64
}

// GaussianPrior penalizes w²/(2·Variance).
type GaussianPrior struct {
	Variance float64
}

func (p GaussianPrior) Penalty(w float64) float64 {
	return w * w / (2 * p.Variance)
}

func (p GaussianPrior) Derivative(w float64) float64 {
	return w / p.Variance
}

// HyperbolicPrior penalizes Slope·log(cosh(Sharpness·w)), a smooth
// approximation of an L1 penalty.
type HyperbolicPrior struct {
	Slope     float64
	Sharpness float64
}

func (p HyperbolicPrior) Penalty(w float64) float64 {
	return p.Slope * logCosh(p.Sharpness*w)
}

func (p HyperbolicPrior) Derivative(w float64) float64 {
	return p.Slope * math.Tanh(p.Sharpness*w) * p.Sharpness
}

// logCosh is log(cosh(x)) without overflow for large |x|.
func logCosh(x float64) float64 {
	ax := math.Abs(x)
	return ax + math.Log1p(math.Exp(-2*ax)) - math.Ln2
}

// NoPrior is maximum likelihood.
type NoPrior struct{}

func (NoPrior) Penalty(float64) float64    { return 0 }
func (NoPrior) Derivative(float64) float64 { return 0 }
