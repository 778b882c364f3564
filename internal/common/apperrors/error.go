// Package apperrors provides application errors that carry an HTTP status
// code and can be chained into taxonomies. It implements the standard error
// interface and supports errors.Is / errors.As across the whole chain.
package apperrors

// Error is the interface implemented by all application errors. Errors are
// immutable; every derivation method returns a new Error based on the
// receiver, so package-level error variables can be used as templates.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // fresh error using current as template
	Msg(msg string) Error                  // new message, wraps original
	MsgErr(msg string, err ...error) Error // new message, wraps original plus extra errors
	Err(err ...error) Error                // same message, attaches additional errors
	SetStatusCode(int) Error               // sets the HTTP status code
	StatusCode() int                       // returns the HTTP status code
	ErrorAll() string                      // message including wrapped errors
	UnwrapAll() []error                    // all wrapped errors
}
