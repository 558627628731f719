package errors

import (
	"errors"
	"fmt"
)

// --- Converge Core Error Types ---

// ConfigError represents an error encountered while loading or parsing a
// playbook, an inventory, or the run configuration.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates malformed or contradictory task parameters,
// detected before any I/O. It is fatal to the task only.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// TemplateError is returned when a templated task field cannot be resolved
// against a host's variables.
type TemplateError struct {
	Field string
	Cause error
}

func NewTemplateError(field string, cause error) *TemplateError {
	return &TemplateError{Field: field, Cause: cause}
}
func (e *TemplateError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("template error: %v", e.Cause)
	}
	return fmt.Sprintf("template error in field '%s': %v", e.Field, e.Cause)
}
func (e *TemplateError) Unwrap() error { return e.Cause }

// PreconditionError signals that a declared source or target does not exist
// where it is required. Query surfaces it as a Failed response.
type PreconditionError struct {
	Subject string
	Reason  string
}

func NewPreconditionError(subject, reason string) *PreconditionError {
	return &PreconditionError{Subject: subject, Reason: reason}
}
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for '%s': %s", e.Subject, e.Reason)
}

// TransportError wraps a failure of a connection primitive (command
// execution, stat, hash, or file transfer). Output carries whatever the
// remote side printed, retained for diagnosis.
type TransportError struct {
	Op     string
	Host   string
	Output string
	Cause  error
}

func NewTransportError(op, host, output string, cause error) *TransportError {
	return &TransportError{Op: op, Host: host, Output: output, Cause: cause}
}
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport error on '%s' during %s", e.Host, e.Op)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s (output: %s)", msg, e.Output)
	}
	return msg
}
func (e *TransportError) Unwrap() error { return e.Cause }

// TaskExecutionError represents a fatal error that occurred while driving a
// specific task through the reconciliation phases.
type TaskExecutionError struct {
	TaskName string
	Cause    error
}

func NewTaskExecutionError(taskName string, cause error) *TaskExecutionError {
	return &TaskExecutionError{TaskName: taskName, Cause: cause}
}
func (e *TaskExecutionError) Error() string {
	if e.TaskName == "" {
		return fmt.Sprintf("task execution failed: %v", e.Cause)
	}
	return fmt.Sprintf("task '%s' execution failed: %v", e.TaskName, e.Cause)
}
func (e *TaskExecutionError) Unwrap() error { return e.Cause }

// ModuleNotFoundError indicates that the module tag of a task could not be
// found in the module registry.
type ModuleNotFoundError struct {
	ModuleName string
}

func NewModuleNotFoundError(moduleName string) *ModuleNotFoundError {
	return &ModuleNotFoundError{ModuleName: moduleName}
}
func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module not found: %s", e.ModuleName)
}

// InventoryError reports a malformed inventory or a reference to an unknown
// group or host.
type InventoryError struct {
	Message string
	Cause   error
}

func NewInventoryError(message string, cause error) *InventoryError {
	return &InventoryError{Message: message, Cause: cause}
}
func (e *InventoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inventory error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("inventory error: %s", e.Message)
}
func (e *InventoryError) Unwrap() error { return e.Cause }

// SkippedError indicates a task was intentionally skipped (e.g. a false
// 'condition'). It implements the error interface but signifies non-failure.
type SkippedError struct {
	Reason string
}

func NewSkippedError(reason string) *SkippedError {
	return &SkippedError{Reason: reason}
}
func (e *SkippedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("task skipped: %s", e.Reason)
	}
	return "task skipped"
}

// IsSkipped checks if an error is a SkippedError using errors.As.
func IsSkipped(err error) bool {
	var skipErr *SkippedError
	return errors.As(err, &skipErr)
}
