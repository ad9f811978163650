package factor

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrySealed is returned when a sealed registry is modified.
	ErrRegistrySealed = errors.New("factor registry is sealed")
	// ErrUnknownConstant is returned for overrides of undeclared constants.
	ErrUnknownConstant = errors.New("unknown constant")
)

// DuplicateFactorError indicates a factor name was registered twice.
type DuplicateFactorError struct {
	Name string
}

func (e *DuplicateFactorError) Error() string {
	return fmt.Sprintf("factor %q already registered", e.Name)
}

// InvalidWeightError indicates a negative or non-finite factor weight.
type InvalidWeightError struct {
	Name   string
	Weight float64
}

func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("factor %q: invalid weight %g (must be a finite value >= 0)", e.Name, e.Weight)
}

// MissingAttributeError indicates a record lacks the raw attribute a factor
// needs and the factor declares no default.
type MissingAttributeError struct {
	RecordID  string
	Factor    string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("record %q: factor %q: missing attribute %q", e.RecordID, e.Factor, e.Attribute)
}

// OutOfRangeError indicates a value outside the factor's valid range with
// no clamping declared.
type OutOfRangeError struct {
	RecordID string
	Factor   string
	Value    float64
	Range    Range
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("record %q: factor %q: value %g outside valid range %s", e.RecordID, e.Factor, e.Value, e.Range)
}

// InvalidAttributeError indicates an attribute value that cannot be read as
// the type its extraction rule expects.
type InvalidAttributeError struct {
	RecordID  string
	Factor    string
	Attribute string
	Value     any
	Err       error
}

func (e *InvalidAttributeError) Error() string {
	return fmt.Sprintf("record %q: factor %q: attribute %q value %v: %v", e.RecordID, e.Factor, e.Attribute, e.Value, e.Err)
}

func (e *InvalidAttributeError) Unwrap() error { return e.Err }
