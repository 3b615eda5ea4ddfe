package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrEmptyInput        = errors.New("input file has no rows")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
