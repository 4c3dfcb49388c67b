// Package pipeline holds the per-invocation execution context and the
// runners that gate, wrap, and recover a handler call: guards, interceptors
// and exception filters.
//
// Guards run in declaration order and stop at the first denial.
// Interceptors compose as an onion around the handler: for [A, B] the
// observed order is A-pre, B-pre, handler, B-post, A-post. Exception filters
// run only on error and stop as soon as one of them has written a response.
package pipeline
