package pipeline

// Kind is the tagged variant of a term: the category of value it produces
// for each asset on each session.
type Kind int

const (
	// KindFactor produces one numeric value per asset per session.
	KindFactor Kind = iota

	// KindFilter produces one boolean value per asset per session.
	KindFilter

	// KindClassifier produces one categorical label per asset per session.
	KindClassifier
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFactor:
		return "factor"
	case KindFilter:
		return "filter"
	case KindClassifier:
		return "classifier"
	default:
		return "unknown"
	}
}

// DType returns the output dtype implied by the kind.
func (k Kind) DType() DType {
	switch k {
	case KindFilter:
		return Bool
	case KindClassifier:
		return Int64
	default:
		return Float64
	}
}

// DType describes the logical element type of a term's output array.
//
// All arrays are physically carried as float64 with NaN as the missing-value
// sentinel: Bool values are encoded as 0/1 and Int64 labels as small
// non-negative integers. The logical dtype drives construction-time
// compatibility checks between a term and its inputs.
type DType int

const (
	// Float64 is numeric data: raw columns and factor outputs.
	Float64 DType = iota

	// Bool is boolean data: filter outputs, encoded 0/1.
	Bool

	// Int64 is categorical data: classifier labels, encoded as integers.
	Int64
)

// String returns the name of the dtype.
func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}
