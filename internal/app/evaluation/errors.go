package evaluation

import (
	"errors"
	"time"
)

// TransientError：这次没测出结论（超时、限流、DNS SERVFAIL），可以重试。
type TransientError struct {
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return "transient: " + e.Reason + ": " + e.Err.Error()
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError：内部不可恢复（URL 非法、账号不存在），直接进入 Failed，不重试。
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return "fatal: " + e.Reason + ": " + e.Err.Error()
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

func Transient(reason string, err error) error {
	return &TransientError{Reason: reason, Err: err}
}

func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
