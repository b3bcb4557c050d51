// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeWorkflowUnavailable ErrorCode = "WORKFLOW_UNAVAILABLE"
	ErrCodeSubmissionFailed    ErrorCode = "SUBMISSION_FAILED"
	ErrCodeExecutionFailed     ErrorCode = "EXECUTION_FAILED"
	ErrCodeExecutionTimeout    ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodePartialExtraction   ErrorCode = "PARTIAL_EXTRACTION"
	ErrCodeInputParsingFailed  ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError rejects a malformed request before any engine call.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   fmt.Sprintf("Validation error: %s", details),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowUnavailableError is returned when neither the request nor the
// startup template provides a workflow.
func NewWorkflowUnavailableError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowUnavailable,
		Message:   "No workflow provided and default workflow unavailable",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionError wraps a failure to hand the workflow to the engine.
// Not retryable: the engine has no idempotency key.
func NewSubmissionError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionFailed,
		Message:   "Failed to submit workflow to ComfyUI",
		Details:   errString(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewExecutionError carries the engine-reported failure message.
func NewExecutionError(promptID, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutionFailed,
		Message:   message,
		Details:   fmt.Sprintf("promptId: %s", promptID),
		Retryable: false,
		Metadata:  map[string]interface{}{"promptId": promptID},
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionTimeoutError is returned when no terminal state is observed in time.
func NewExecutionTimeoutError(promptID, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutionTimeout,
		Message:   message,
		Details:   fmt.Sprintf("promptId: %s", promptID),
		Retryable: false,
		Metadata:  map[string]interface{}{"promptId": promptID},
		Timestamp: time.Now().UTC(),
	}
}

// NewPartialExtractionWarning records images that could not be retrieved.
// It never terminates a request.
func NewPartialExtractionWarning(promptID string, failed, total int) *StandardError {
	return &StandardError{
		Code:      ErrCodePartialExtraction,
		Message:   fmt.Sprintf("%d of %d image(s) could not be retrieved", failed, total),
		Details:   fmt.Sprintf("promptId: %s", promptID),
		Retryable: false,
		Metadata:  map[string]interface{}{"promptId": promptID, "failed": failed, "total": total},
		Timestamp: time.Now().UTC(),
	}
}

// NewInputParsingError is used by transports when job variables are not JSON.
func NewInputParsingError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputParsingFailed,
		Message:   "Failed to parse job variables",
		Details:   errString(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// Wrap normalizes any error into a StandardError.
func Wrap(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the codes modelled on BPMN boundary events.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:    "IMAGE_REQUEST_INVALID",
	ErrCodeWorkflowUnavailable: "IMAGE_WORKFLOW_UNAVAILABLE",
	ErrCodeSubmissionFailed:    "IMAGE_SUBMISSION_FAILED",
	ErrCodeExecutionFailed:     "IMAGE_EXECUTION_FAILED",
	ErrCodeExecutionTimeout:    "IMAGE_EXECUTION_TIMEOUT",
	ErrCodeInputParsingFailed:  "IMAGE_REQUEST_INVALID",
}

// GetRetryCount returns how many job-level retries an error code allows.
// Every terminal failure is 0: a retried job would resubmit the workflow and
// duplicate engine work.
func GetRetryCount(code ErrorCode) int {
	if n, ok := retryPolicy[code]; ok {
		return n
	}
	return 0
}

// retryPolicy is intentionally empty; add an entry to opt a code into job retries.
var retryPolicy = map[ErrorCode]int{}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSING"):
		return "VALIDATION"
	case strings.Contains(codeStr, "WORKFLOW"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "SUBMISSION"):
		return "SUBMISSION"
	case strings.Contains(codeStr, "EXECUTION"):
		return "EXECUTION"
	case strings.Contains(codeStr, "EXTRACTION"):
		return "EXTRACTION"
	default:
		return "OTHER"
	}
}
