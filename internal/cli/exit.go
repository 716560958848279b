package cli

import (
	"errors"

	"tree-buffer/internal/reservation"
)

// 进程退出码
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUnknown = 2  // 提交结果未知，重试前必须核对库存
	ExitUsage   = 64 // EX_USAGE
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// runFailure classifies an error from a reservation run.
func runFailure(err error) error {
	code := ExitFailure
	switch {
	case errors.Is(err, reservation.ErrInvalidRequest):
		code = ExitUsage
	case errors.Is(err, reservation.ErrApplyUnknown):
		code = ExitUnknown
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps a command error to a process exit code.
// Errors cobra raises on its own (unknown command, bad flag) are usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}
