package pipeline

import (
	"net/http"

	"github.com/dalemusser/nural/exception"
)

// Guard decides whether an invocation may proceed. Returning false denies
// with a generic 403; returning an error denies with that error, which
// lets a guard distinguish 401 from 403.
type Guard func(r *http.Request, ec *Context) (bool, error)

// TryActivate evaluates guards in order and stops at the first denial.
// Guards after a denying one never run. An empty list always passes.
func TryActivate(guards []Guard, r *http.Request, ec *Context) error {
	for _, g := range guards {
		if g == nil {
			continue
		}
		ok, err := g(r, ec)
		if err != nil {
			return err
		}
		if !ok {
			return exception.Forbidden("")
		}
	}
	return nil
}

// GuardFunc adapts a predicate that cannot fail.
func GuardFunc(fn func(r *http.Request, ec *Context) bool) Guard {
	return func(r *http.Request, ec *Context) (bool, error) {
		return fn(r, ec), nil
	}
}
