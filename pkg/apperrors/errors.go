package apperrors

import "errors"

// ErrNotFound indicates that a requested investment or cashflow could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that a record with the same id already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrClosed indicates an operation on an investment that is no longer active.
var ErrClosed = errors.New("investment is closed")
