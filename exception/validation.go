package exception

import (
	"strings"
)

// Issue is a single schema violation.
type Issue struct {
	Path    []string `json:"path"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// ValidationError reports that a value did not satisfy its schema. Source
// names what was validated ("params", "query", "body", "response", or a
// gateway event name).
type ValidationError struct {
	Source string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if len(is.Path) > 0 {
			parts = append(parts, strings.Join(is.Path, ".")+": "+is.Message)
		} else {
			parts = append(parts, is.Message)
		}
	}
	prefix := "validation failed"
	if e.Source != "" {
		prefix = e.Source + " validation failed"
	}
	return prefix + ": " + strings.Join(parts, "; ")
}
