package pipeline

import "net/http"

// Next invokes the rest of the chain and returns its result.
type Next func() (any, error)

// Interceptor wraps everything downstream of it. It may act before calling
// next, inspect or replace what next returns, or skip next entirely.
type Interceptor func(r *http.Request, next Next, ec *Context) (any, error)

// Intercept runs terminal inside interceptors. The first interceptor is
// the outermost layer. With no interceptors terminal is called directly.
func Intercept(interceptors []Interceptor, r *http.Request, ec *Context, terminal Next) (any, error) {
	next := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		if ic == nil {
			continue
		}
		downstream := next
		next = func() (any, error) {
			return ic(r, downstream, ec)
		}
	}
	return next()
}
