package crf

import (
	"errors"
	"fmt"
)

// Sentinel errors for the crf package.
// Use errors.Is to check: errors.Is(err, crf.ErrUnresolvedDestination)
var (
	ErrUnresolvedDestination = errors.New("crf: transition destination does not exist")
	ErrUnknownState          = errors.New("crf: unknown state")
	ErrDuplicateState        = errors.New("crf: duplicate state name")
	ErrGraphFrozen           = errors.New("crf: graph already resolved")
	ErrNotResolved           = errors.New("crf: graph not resolved")
	ErrInvalidOrder          = errors.New("crf: invalid order parameter")
	ErrAlphabetMismatch      = errors.New("crf: label or feature not in alphabet")
	ErrLengthMismatch        = errors.New("crf: input and output lengths differ")
	ErrNoPath                = errors.New("crf: no path through graph")
	ErrInfeasible            = errors.New("crf: instance has no path consistent with its labels")
	ErrFeasibilityChanged    = errors.New("crf: instance feasibility changed between evaluations")
	ErrNoInstances           = errors.New("crf: no trainable instances")
)

// ConfigError reports a fatal problem with graph construction or training setup.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// InfeasibleError reports an instance whose constrained lattice has infinite cost.
type InfeasibleError struct {
	Instance int
	Name     string
}

func (e *InfeasibleError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("crf: instance %d (%s) has no path consistent with its labels", e.Instance, e.Name)
	}
	return fmt.Sprintf("crf: instance %d has no path consistent with its labels", e.Instance)
}

func (e *InfeasibleError) Is(target error) bool { return target == ErrInfeasible }

// IsRecoverable reports whether err only invalidates a single instance.
func IsRecoverable(err error) bool {
	return err != nil && errors.Is(err, ErrInfeasible) && !errors.Is(err, ErrFeasibilityChanged)
}
