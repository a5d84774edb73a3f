package config

import "fmt"

// CodeConfigInvalid marks a missing or invalid option detected before any task runs.
const CodeConfigInvalid = "E_CONFIG_INVALID"

// Error reports the offending option. It is never retryable.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %s", CodeConfigInvalid, e.Key, e.Message)
}

func (e *Error) CodeValue() string     { return CodeConfigInvalid }
func (e *Error) RetryableStatus() bool { return false }

func newError(key, message string) *Error {
	return &Error{Key: key, Message: message}
}
