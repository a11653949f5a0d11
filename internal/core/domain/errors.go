package domain

import "errors"

// ============================================================================
// Provisioning Errors
// ============================================================================

var (
	ErrBlobNotFound    = errors.New("registry object not found")
	ErrModelNotFound   = errors.New("base model not found in registry")
	ErrInvalidModel    = errors.New("base model could not be decoded")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrSplitNotFound   = errors.New("dataset split not found")
)

// ============================================================================
// Conversion Errors
// ============================================================================

var (
	ErrUnsupportedOperator = errors.New("operator has no integer kernel")
	ErrEmptyCalibrationSet = errors.New("representative dataset yielded no samples")
	ErrUnknownConfig       = errors.New("unknown quantization config")
)

// ============================================================================
// Evaluation Errors
// ============================================================================

var (
	ErrShapeMismatch = errors.New("input tensor does not match model input")
)

// ============================================================================
// Reporting Errors
// ============================================================================

var (
	ErrRunNotFound  = errors.New("benchmark run not found")
	ErrInvalidRunID = errors.New("invalid benchmark run ID")
)
