package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfig        = errors.New("configuration error")
	ErrFormat        = errors.New("format error")
	ErrResource      = errors.New("resource error")
	ErrIO            = errors.New("i/o error")
	ErrStaleSnapshot = errors.New("stale index snapshot")
)

// Exit codes returned by the command-line tools.
const (
	ExitFailure  = 1
	ExitConfig   = 2
	ExitFormat   = 3
	ExitResource = 4
	ExitIO       = 5
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCodeFor(sentinel),
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCodeFor(sentinel),
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ExitCode maps an error to the process exit status the tools use.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.ExitCode != 0 {
		return appErr.ExitCode
	}
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrFormat):
		return ExitFormat
	case errors.Is(err, ErrResource):
		return ExitResource
	case errors.Is(err, ErrIO):
		return ExitIO
	default:
		return ExitFailure
	}
}
