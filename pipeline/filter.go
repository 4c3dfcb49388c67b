package pipeline

import "net/http"

// Filter gets a chance to turn err into a response. A filter that writes
// to w marks the error as handled.
type Filter func(err error, r *http.Request, w ResponseWriter, ec *Context)

// ApplyFilters offers err to each filter in order and reports whether one
// of them wrote a response. Remaining filters are skipped once a response
// exists. false means the caller still owns err.
func ApplyFilters(filters []Filter, err error, r *http.Request, w ResponseWriter, ec *Context) bool {
	for _, f := range filters {
		if f == nil {
			continue
		}
		f(err, r, w, ec)
		if w.Written() {
			return true
		}
	}
	return false
}

// FilterFor wraps a filter so it only sees errors matching match.
func FilterFor(match func(error) bool, f Filter) Filter {
	return func(err error, r *http.Request, w ResponseWriter, ec *Context) {
		if match(err) {
			f(err, r, w, ec)
		}
	}
}
