// Package kiqerr classifies the errors that flow into a failure event
// (spec.md §7's error kinds) the way the reference system's exception
// classes flow into error_class/error_message on the wire.
package kiqerr

import "reflect"

// ClassNamer lets an error self-report the error_class a reporter
// records. Errors that don't implement it fall back to their Go type
// name, which is enough to distinguish worker-defined failures from
// each other without requiring every worker author to implement it.
type ClassNamer interface {
	ErrorClass() string
}

// Classify extracts the (error_class, error_message) pair a failure
// event carries onto a retried or dead job.
func Classify(err error) (class, message string) {
	if err == nil {
		return "", ""
	}
	if cn, ok := err.(ClassNamer); ok {
		return cn.ErrorClass(), err.Error()
	}
	return typeName(err), err.Error()
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "error"
	}
	if name := t.Name(); name != "" {
		return name
	}
	return "error"
}

// UnresolvedWorkerError reports a job.class with no registered worker.
// Its ErrorClass is the class name itself, per spec.md §4.3's "absence
// is a failure with error class equal to the class name."
type UnresolvedWorkerError struct {
	Class string
}

func (e *UnresolvedWorkerError) Error() string {
	return "no worker registered for class " + e.Class
}

func (e *UnresolvedWorkerError) ErrorClass() string { return e.Class }

// TimeoutError reports a perform deadline expiry (spec.md §5).
type TimeoutError struct{}

func (TimeoutError) Error() string      { return "job execution deadline exceeded" }
func (TimeoutError) ErrorClass() string { return "TimeoutError" }

// CancellationError reports a perform interrupted by supervisor
// shutdown (spec.md §5).
type CancellationError struct{}

func (CancellationError) Error() string      { return "job execution cancelled during shutdown" }
func (CancellationError) ErrorClass() string { return "CancellationError" }

// DecodeError reports a payload that failed to parse as a job
// envelope (spec.md §4.3's "decode errors emit a failure event with
// no job").
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string      { return "decode job payload: " + e.Err.Error() }
func (e *DecodeError) ErrorClass() string { return "DecodeError" }
func (e *DecodeError) Unwrap() error      { return e.Err }
