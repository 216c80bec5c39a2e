// Package errors provides coded errors for the bookql GraphQL API.
//
// Resolvers return *Error values; graphql-go copies the result of Extensions()
// into the "extensions" member of the GraphQL error, so clients can switch on
// a machine-readable code:
//
//	{"message":"not authenticated","extensions":{"code":"UNAUTHENTICATED"}}
//
// Errors that are not *Error (eg the database is unreachable) reach the client
// with a message only and no code.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used by the API.
const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeBadUserInput    Code = "BAD_USER_INPUT"
)

// Error is an API error with a code, message, and optional invalid arguments.
type Error struct {
	Code        Code
	Message     string
	InvalidArgs any   // argument(s) that caused the error, if any
	cause       error // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Extensions is called by graphql-go to fill in the GraphQL error extensions.
func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": string(e.Code)}
	if e.InvalidArgs != nil {
		ext["invalidArgs"] = e.InvalidArgs
	}
	if e.cause != nil {
		ext["error"] = e.cause.Error()
	}
	return ext
}

// ErrUnauthenticated is returned by operations that need a logged in user.
// Being an *Error, errors.Is matches any error with the same code.
var ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "not authenticated"}

// Forbidden creates an authorization-failed error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// BadUserInput creates an input error naming the argument(s) that were rejected.
func BadUserInput(msg string, invalidArgs any, cause error) *Error {
	return &Error{Code: CodeBadUserInput, Message: msg, InvalidArgs: invalidArgs, cause: cause}
}
