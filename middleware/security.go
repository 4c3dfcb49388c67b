// middleware/security.go
package middleware

import (
	"net/http"
	"strconv"

	"github.com/dalemusser/nural/config"
)

// SecurityHeadersOptions lists the security response headers. An empty
// string omits that header.
type SecurityHeadersOptions struct {
	ContentSecurityPolicy         string
	CrossOriginOpenerPolicy       string
	CrossOriginResourcePolicy     string
	CrossOriginEmbedderPolicy     string
	DNSPrefetchControl            string
	XFrameOptions                 string
	XContentTypeOptions           string
	XPermittedCrossDomainPolicies string
	ReferrerPolicy                string
	XSSProtection                 string

	// HSTSMaxAge is in seconds; 0 omits Strict-Transport-Security.
	// The header is only sent on TLS requests.
	HSTSMaxAge            int
	HSTSIncludeSubDomains bool
	HSTSPreload           bool
}

// DefaultSecurityHeadersOptions mirrors the usual helmet defaults.
func DefaultSecurityHeadersOptions() SecurityHeadersOptions {
	return SecurityHeadersOptions{
		CrossOriginOpenerPolicy:       "same-origin",
		CrossOriginResourcePolicy:     "same-origin",
		DNSPrefetchControl:            "off",
		XFrameOptions:                 "SAMEORIGIN",
		XContentTypeOptions:           "nosniff",
		XPermittedCrossDomainPolicies: "none",
		ReferrerPolicy:                "no-referrer",
		XSSProtection:                 "0",
		HSTSMaxAge:                    15552000,
		HSTSIncludeSubDomains:         true,
	}
}

// Headers returns the fixed header set for opts, excluding HSTS.
func (o SecurityHeadersOptions) Headers() map[string]string {
	h := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			h[k] = v
		}
	}
	set("Content-Security-Policy", o.ContentSecurityPolicy)
	set("Cross-Origin-Opener-Policy", o.CrossOriginOpenerPolicy)
	set("Cross-Origin-Resource-Policy", o.CrossOriginResourcePolicy)
	set("Cross-Origin-Embedder-Policy", o.CrossOriginEmbedderPolicy)
	set("X-DNS-Prefetch-Control", o.DNSPrefetchControl)
	set("X-Frame-Options", o.XFrameOptions)
	set("X-Content-Type-Options", o.XContentTypeOptions)
	set("X-Permitted-Cross-Domain-Policies", o.XPermittedCrossDomainPolicies)
	set("Referrer-Policy", o.ReferrerPolicy)
	set("X-XSS-Protection", o.XSSProtection)
	return h
}

func (o SecurityHeadersOptions) hsts() string {
	if o.HSTSMaxAge <= 0 {
		return ""
	}
	v := "max-age=" + strconv.Itoa(o.HSTSMaxAge)
	if o.HSTSIncludeSubDomains {
		v += "; includeSubDomains"
	}
	if o.HSTSPreload {
		v += "; preload"
	}
	return v
}

// SecurityHeaders sets the configured headers on every response.
func SecurityHeaders(opts SecurityHeadersOptions) func(next http.Handler) http.Handler {
	fixed := opts.Headers()
	hsts := opts.hsts()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range fixed {
				w.Header().Set(k, v)
			}
			if hsts != "" && r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersFromConfig builds SecurityHeaders from the security block
// of cfg. Disabled or nil config yields a pass-through middleware.
func SecurityHeadersFromConfig(cfg *config.CoreConfig) func(next http.Handler) http.Handler {
	if cfg == nil || !cfg.Security.EnableSecurityHeaders {
		return passThrough
	}
	opts := DefaultSecurityHeadersOptions()
	opts.ContentSecurityPolicy = cfg.Security.ContentSecurityPolicy
	opts.HSTSMaxAge = cfg.Security.HSTSMaxAge
	return SecurityHeaders(opts)
}

func passThrough(next http.Handler) http.Handler { return next }
