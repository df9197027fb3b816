package types

import (
	"errors"
	"fmt"
)

// ErrUnknownStatusCode marks a sandbox status code outside the modeled table.
var ErrUnknownStatusCode = errors.New("unrecognized sandbox status code")

type SubmissionStatus string

const (
	SubmissionStatusInQueue             SubmissionStatus = "in_queue"              // Accepted by the sandbox, not yet scheduled
	SubmissionStatusProcessing          SubmissionStatus = "processing"            // Currently executing inside the sandbox
	SubmissionStatusAccepted            SubmissionStatus = "accepted"              // Output matched the expected output
	SubmissionStatusWrongAnswer         SubmissionStatus = "wrong_answer"          // Output did not match the expected output
	SubmissionStatusTimeLimitExceeded   SubmissionStatus = "time_limit_exceeded"   // Execution exceeded the time limit
	SubmissionStatusCompilationError    SubmissionStatus = "compilation_error"     // Harness or user code failed to compile
	SubmissionStatusRuntimeErrorSIGSEGV SubmissionStatus = "runtime_error_sigsegv" // Segmentation fault
	SubmissionStatusRuntimeErrorSIGXFSZ SubmissionStatus = "runtime_error_sigxfsz" // Output file size limit exceeded
	SubmissionStatusRuntimeErrorSIGFPE  SubmissionStatus = "runtime_error_sigfpe"  // Floating point error
	SubmissionStatusRuntimeErrorSIGABRT SubmissionStatus = "runtime_error_sigabrt" // Aborted
	SubmissionStatusRuntimeErrorNZEC    SubmissionStatus = "runtime_error_nzec"    // Non-zero exit code
	SubmissionStatusRuntimeErrorOther   SubmissionStatus = "runtime_error_other"   // Any other runtime error
	SubmissionStatusInternalError       SubmissionStatus = "internal_error"        // Sandbox side error
	SubmissionStatusExecFormatError     SubmissionStatus = "exec_format_error"     // Produced binary could not be executed
)

// Numeric status codes from the sandbox's wire protocol.
var sandboxStatusCodes = map[int]SubmissionStatus{
	1:  SubmissionStatusInQueue,
	2:  SubmissionStatusProcessing,
	3:  SubmissionStatusAccepted,
	4:  SubmissionStatusWrongAnswer,
	5:  SubmissionStatusTimeLimitExceeded,
	6:  SubmissionStatusCompilationError,
	7:  SubmissionStatusRuntimeErrorSIGSEGV,
	8:  SubmissionStatusRuntimeErrorSIGXFSZ,
	9:  SubmissionStatusRuntimeErrorSIGFPE,
	10: SubmissionStatusRuntimeErrorSIGABRT,
	11: SubmissionStatusRuntimeErrorNZEC,
	12: SubmissionStatusRuntimeErrorOther,
	13: SubmissionStatusInternalError,
	14: SubmissionStatusExecFormatError,
}

// FromSandboxStatusCode maps a sandbox numeric status code to a
// [SubmissionStatus]. An unrecognized code means the sandbox's status space
// has grown beyond what this table models and is returned as an error rather
// than folded into a catch-all status.
func FromSandboxStatusCode(code int) (SubmissionStatus, error) {
	status, ok := sandboxStatusCodes[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownStatusCode, code)
	}

	return status, nil
}

// Terminal reports whether the sandbox will never change this status again.
func (s SubmissionStatus) Terminal() bool {
	return s != SubmissionStatusInQueue && s != SubmissionStatusProcessing
}
